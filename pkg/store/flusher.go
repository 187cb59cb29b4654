package store

import (
	"context"
	"fmt"
	"log/slog"

	"lsmdb/pkg/manifest"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/wireformat"
)

// runFlusher drains frozen memtables from s.flushCh and writes each one
// to a new L0 SST, grounded in the teacher's Flusher.Start/run/flush
// ticker-free channel-driven loop.
func (s *Store) runFlusher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mt := <-s.flushCh:
			if err := s.flushOne(mt); err != nil {
				slog.Error("store: flush failed", "memtable_id", mt.ID(), "error", err)
				continue
			}
		}
	}
}

func (s *Store) flushOne(mt *memtable.Memtable) error {
	snapshot := mt.Snapshot()
	if len(snapshot) == 0 {
		return s.discardFlushed(mt)
	}

	// The flushed SST gets a freshly minted file id rather than reusing
	// the memtable's own WAL id: the WAL isn't discarded until after the
	// manifest commit below, so a crash in between would otherwise leave
	// a WAL on disk that replays into a second flush of the same id.
	fid := s.ids.Next()
	path := sstable.PathFor(s.workDir, fid)
	b := sstable.NewBuilder(s.cfg.BlockSize)
	for _, item := range snapshot {
		b.Add(item.Key, item.Value)
	}
	if err := b.Finish(path, s.cfg.BloomFalsePositive); err != nil {
		return fmt.Errorf("store: write flushed table %d: %w", fid, err)
	}

	tbl, err := sstable.Open(path, fid)
	if err != nil {
		return fmt.Errorf("store: open flushed table %d: %w", fid, err)
	}

	if err := s.mf.AddChanges([]wireformat.ManifestChange{manifest.CreateChange(fid, 0)}); err != nil {
		_ = tbl.Close()
		return fmt.Errorf("store: commit flush of table %d: %w", fid, err)
	}
	s.mgr.AddTable(0, tbl)

	slog.Info("store: flushed memtable", "memtable_id", mt.ID(), "table_id", fid, "keys", len(snapshot))
	return s.discardFlushed(mt)
}

func (s *Store) discardFlushed(mt *memtable.Memtable) error {
	s.mu.Lock()
	for i, m := range s.immutable {
		if m == mt {
			s.immutable = append(s.immutable[:i], s.immutable[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if err := mt.Discard(); err != nil {
		return fmt.Errorf("store: discard memtable %d: %w", mt.ID(), err)
	}
	return nil
}
