// Package memtable implements the ordered, concurrent-safe in-memory map
// that backs the active write set, co-owned with its write-ahead log.
package memtable

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmdb/pkg/types"
	"lsmdb/pkg/wal"
)

// ErrFrozen is returned by Insert once a memtable has been frozen for
// flush; the caller must route further writes to a fresh memtable.
var ErrFrozen = errors.New("memtable: frozen")

// Memtable owns an ordered concurrent map and the WAL file that backs it.
// Every key present in the map has a corresponding record already durable
// in the WAL: Insert always writes the WAL before updating the map.
type Memtable struct {
	id     types.FileID // equals the backing WAL's file id
	wal    *wal.WAL
	items  *skipmap.StringMap[*Item]
	frozen atomic.Bool
}

// New creates a fresh memtable backed by a newly preallocated WAL file
// sized walCapacity (also the memtable's flush threshold, per spec §3:
// "memtable_size: bytes; also WAL file size").
func New(dir string, fid types.FileID, walCapacity int64) (*Memtable, error) {
	w, err := wal.Create(dir, fid, walCapacity)
	if err != nil {
		return nil, fmt.Errorf("memtable: create wal: %w", err)
	}
	return &Memtable{id: fid, wal: w, items: skipmap.NewString[*Item]()}, nil
}

// Open recovers a memtable from an existing WAL file (crash recovery):
// every record in the WAL is iterated and inserted into the map.
func Open(dir string, fid types.FileID) (*Memtable, error) {
	w, err := wal.Open(dir, fid)
	if err != nil {
		return nil, fmt.Errorf("memtable: open wal: %w", err)
	}
	mt := &Memtable{id: fid, wal: w, items: skipmap.NewString[*Item]()}

	end, err := w.Replay(func(key, val []byte) bool {
		k := make([]byte, len(key))
		copy(k, key)
		v := make([]byte, len(val))
		copy(v, val)
		mt.items.Store(string(k), &Item{Key: k, Value: v})
		return true
	})
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("memtable: replay wal %d: %w", fid, err)
	}
	w.Resume(end)

	return mt, nil
}

// ID returns the memtable's file id, equal to its WAL's file id.
func (mt *Memtable) ID() types.FileID { return mt.id }

// Insert writes the WAL record first, then upserts the map entry. If the
// process crashes between the two steps, the map update is lost but the
// WAL remains authoritative on replay (spec §4.4).
func (mt *Memtable) Insert(key, val []byte, seqn types.SeqN) error {
	if mt.frozen.Load() {
		return ErrFrozen
	}
	if err := mt.wal.Add(key, val); err != nil {
		return fmt.Errorf("memtable: wal add: %w", err)
	}
	if err := mt.wal.Sync(); err != nil {
		return fmt.Errorf("memtable: wal sync: %w", err)
	}

	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(val))
	copy(v, val)
	mt.items.Store(string(k), &Item{Key: k, Value: v, SeqN: seqn})
	return nil
}

// Get returns the exact-match value for key, if present.
func (mt *Memtable) Get(key []byte) (*Item, bool) {
	return mt.items.Load(string(key))
}

// Size reports the WAL's byte count, which is also the memtable's size
// for the purpose of the flush threshold.
func (mt *Memtable) Size() int64 {
	return mt.wal.Size()
}

// Len reports the number of live keys in the map.
func (mt *Memtable) Len() int {
	return mt.items.Len()
}

// Freeze marks the memtable immutable: further Insert calls fail with
// ErrFrozen. Frozen memtables are queued for flush, oldest first.
func (mt *Memtable) Freeze() {
	mt.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (mt *Memtable) Frozen() bool {
	return mt.frozen.Load()
}

// Snapshot returns every item in ascending key order, suitable for
// streaming straight into a table builder at flush time.
func (mt *Memtable) Snapshot() []*Item {
	out := make([]*Item, 0, mt.items.Len())
	mt.items.Range(func(_ string, item *Item) bool {
		out = append(out, item)
		return true
	})
	// skipmap.Range already yields ascending key order; the explicit sort
	// guards against relying on an internal ordering guarantee that might
	// not hold for concurrent mutation during the snapshot.
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Key) < string(out[j].Key)
	})
	return out
}

// Close releases the WAL's memory mapping without deleting the file.
func (mt *Memtable) Close() error {
	return mt.wal.Close()
}

// Discard closes the memtable and deletes its backing WAL file. Called
// once the memtable's contents have been durably flushed to an SST.
func (mt *Memtable) Discard() error {
	return mt.wal.Remove()
}
