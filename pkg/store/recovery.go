package store

import (
	"fmt"

	"lsmdb/pkg/config"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/types"
)

// recoverMemtables re-opens every WAL file left in the work directory.
// A WAL is removed (memtable.Discard) only after its memtable has been
// durably written to an SST, so any WAL present at startup still holds
// live, un-flushed data. walIDs is ascending by
// file id (oldest first): all but the newest become immediately
// flushable frozen memtables, since the engine only ever has one
// memtable accepting new writes at a time. If no WAL exists, a fresh
// memtable is created.
func recoverMemtables(opts config.Options, walIDs []types.FileID, ids *types.FileIDCounter) (active *memtable.Memtable, immutable []*memtable.Memtable, maxSeqN types.SeqN, err error) {
	if len(walIDs) == 0 {
		fid := ids.Next()
		mt, err := memtable.New(opts.WorkDir, fid, opts.MemtableSize)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("store: create initial memtable: %w", err)
		}
		return mt, nil, 0, nil
	}

	var opened []*memtable.Memtable
	for _, fid := range walIDs {
		mt, seqn, oerr := openMemtableTrackingSeqN(opts.WorkDir, fid)
		if oerr != nil {
			for _, m := range opened {
				_ = m.Close()
			}
			return nil, nil, 0, fmt.Errorf("store: recover memtable %d: %w", fid, oerr)
		}
		if seqn > maxSeqN {
			maxSeqN = seqn
		}
		opened = append(opened, mt)
	}

	active = opened[len(opened)-1]
	immutable = opened[:len(opened)-1]
	for _, mt := range immutable {
		mt.Freeze()
	}
	return active, immutable, maxSeqN, nil
}

func openMemtableTrackingSeqN(dir string, fid types.FileID) (*memtable.Memtable, types.SeqN, error) {
	mt, err := memtable.Open(dir, fid)
	if err != nil {
		return nil, 0, err
	}
	var maxSeqN types.SeqN
	for _, item := range mt.Snapshot() {
		if item.SeqN > maxSeqN {
			maxSeqN = item.SeqN
		}
	}
	return mt, maxSeqN, nil
}
