// Package levels implements the level manager: the per-level catalogue of
// on-disk tables that the write path flushes into and the compactor
// rewrites, generalized from a flat "scan every table" lookup to
// min_key/max_key range search.
package levels

import (
	"fmt"
	"sort"
	"sync"

	"lsmdb/pkg/manifest"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// Level holds one level's sorted table slice behind its own lock: L0
// tables are sorted by file id (descending = most recent first) and may
// overlap in key range; L1+ tables are sorted by smallest key and are
// disjoint.
type Level struct {
	mu     sync.RWMutex
	num    int
	tables []*sstable.Table
}

// Num returns the level's index.
func (l *Level) Num() int { return l.num }

// Tables returns a snapshot of the level's current table slice.
func (l *Level) Tables() []*sstable.Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*sstable.Table, len(l.tables))
	copy(out, l.tables)
	return out
}

// TotalSize sums the byte size of every table in the level.
func (l *Level) TotalSize() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum int64
	for _, t := range l.tables {
		sum += t.Size()
	}
	return sum
}

func (l *Level) sortLocked() {
	if l.num == 0 {
		sort.Slice(l.tables, func(i, j int) bool { return l.tables[i].FileID() > l.tables[j].FileID() })
		return
	}
	sort.Slice(l.tables, func(i, j int) bool {
		return string(l.tables[i].Smallest()) < string(l.tables[j].Smallest())
	})
}

// Manager owns every level's table catalogue.
type Manager struct {
	dir    string
	levels []*Level
}

// Open builds a Manager with maxLevelNum levels and opens the SST file
// backing every entry in tableMetas.
func Open(dir string, maxLevelNum int, tableMetas []manifest.TableMeta) (*Manager, error) {
	m := &Manager{dir: dir, levels: make([]*Level, maxLevelNum)}
	for i := range m.levels {
		m.levels[i] = &Level{num: i}
	}

	for _, tm := range tableMetas {
		if tm.Level < 0 || tm.Level >= maxLevelNum {
			return nil, fmt.Errorf("levels: table %d has out-of-range level %d", tm.ID, tm.Level)
		}
		path := sstable.PathFor(dir, tm.ID)
		tbl, err := sstable.Open(path, tm.ID)
		if err != nil {
			return nil, fmt.Errorf("levels: open table %d: %w", tm.ID, err)
		}
		lvl := m.levels[tm.Level]
		lvl.tables = append(lvl.tables, tbl)
	}
	for _, lvl := range m.levels {
		lvl.sortLocked()
	}
	return m, nil
}

// NumLevels returns the number of configured levels.
func (m *Manager) NumLevels() int { return len(m.levels) }

// Level returns the level at index i.
func (m *Manager) Level(i int) *Level { return m.levels[i] }

// Get searches every level from L0 to the deepest level, stopping at the
// first hit (or tombstone). L0 tables are searched newest first; in L1+
// only the one table whose key range covers key is searched.
func (m *Manager) Get(key []byte) ([]byte, bool, error) {
	for _, lvl := range m.levels {
		lvl.mu.RLock()
		tables := lvl.tables
		if lvl.num > 0 {
			i := sort.Search(len(tables), func(i int) bool { return string(tables[i].Biggest()) >= string(key) })
			if i < len(tables) && string(tables[i].Smallest()) <= string(key) {
				tables = tables[i : i+1]
			} else {
				tables = nil
			}
		}
		for _, t := range tables {
			if !t.MayContain(key) {
				continue
			}
			val, ok, err := t.Get(key)
			if err != nil {
				lvl.mu.RUnlock()
				return nil, false, fmt.Errorf("levels: get from table %d: %w", t.FileID(), err)
			}
			if ok {
				lvl.mu.RUnlock()
				return val, true, nil
			}
		}
		lvl.mu.RUnlock()
	}
	return nil, false, nil
}

// AddTable inserts a newly flushed or compacted table into level, keeping
// the level's sort order.
func (m *Manager) AddTable(level int, tbl *sstable.Table) {
	lvl := m.levels[level]
	lvl.mu.Lock()
	defer lvl.mu.Unlock()
	lvl.tables = append(lvl.tables, tbl)
	lvl.sortLocked()
}

// ReplaceLevelTables atomically swaps oldIDs out of level for newTables,
// as the compactor does when it finishes rewriting a set of inputs.
// Replaced tables are returned still open; the caller closes them and
// deletes their files (Table.Remove) once the manifest change recording
// the swap is durable.
func (m *Manager) ReplaceLevelTables(level int, oldIDs []types.FileID, newTables []*sstable.Table) ([]*sstable.Table, error) {
	lvl := m.levels[level]
	lvl.mu.Lock()
	defer lvl.mu.Unlock()

	remove := make(map[types.FileID]bool, len(oldIDs))
	for _, id := range oldIDs {
		remove[id] = true
	}

	var removed []*sstable.Table
	kept := lvl.tables[:0:0]
	for _, t := range lvl.tables {
		if remove[t.FileID()] {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(removed) != len(oldIDs) {
		return nil, fmt.Errorf("levels: level %d missing some tables to replace", level)
	}

	kept = append(kept, newTables...)
	lvl.tables = kept
	lvl.sortLocked()
	return removed, nil
}

// DeleteLevelTables removes ids from level without replacement (used by
// the compactor to drop its top-level inputs once their merged output
// lands in the next level).
func (m *Manager) DeleteLevelTables(level int, ids []types.FileID) ([]*sstable.Table, error) {
	return m.ReplaceLevelTables(level, ids, nil)
}

// GetLevelOverlappingTables returns every table in level whose key range
// overlaps kr, via binary search on L1+ (disjoint, sorted by smallest
// key) and a linear scan on L0 (possibly overlapping).
func (m *Manager) GetLevelOverlappingTables(level int, kr types.KeyRange) []*sstable.Table {
	lvl := m.levels[level]
	lvl.mu.RLock()
	defer lvl.mu.RUnlock()

	if level == 0 {
		var out []*sstable.Table
		for _, t := range lvl.tables {
			if kr.Overlaps(types.KeyRange{Left: t.Smallest(), Right: t.Biggest()}) {
				out = append(out, t)
			}
		}
		return out
	}

	lo := sort.Search(len(lvl.tables), func(i int) bool {
		return string(lvl.tables[i].Biggest()) >= string(kr.Left)
	})
	hi := sort.Search(len(lvl.tables), func(i int) bool {
		return string(lvl.tables[i].Smallest()) > string(kr.Right)
	})
	if lo >= hi {
		return nil
	}
	out := make([]*sstable.Table, hi-lo)
	copy(out, lvl.tables[lo:hi])
	return out
}

// Close closes every table across every level.
func (m *Manager) Close() error {
	var firstErr error
	for _, lvl := range m.levels {
		lvl.mu.Lock()
		for _, t := range lvl.tables {
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		lvl.mu.Unlock()
	}
	return firstErr
}
