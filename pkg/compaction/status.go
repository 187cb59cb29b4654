// Package compaction implements the background worker pool that merges
// L0 tables into the base level and rewrites oversized levels downward,
// grounded in original_source/src/db/compact.rs's level_targets/
// pick_compact_levels/CompactDef algorithm and the teacher's
// pkg/store/flusher.go ticker-driven worker idiom.
package compaction

import (
	"sync"

	"github.com/zhangyunhao116/skipset"

	"lsmdb/pkg/types"
)

// Status tracks which key ranges and which file ids are currently
// participating in a compaction, so two workers never plan overlapping
// work.
type Status struct {
	mu     sync.RWMutex
	ranges [][]types.KeyRange // per level
	delSz  []int64            // per level, size of tables being compacted away

	tables *skipset.OrderedSet[uint64] // flat set of fileIds currently compacting
}

// NewStatus builds a Status for numLevels levels.
func NewStatus(numLevels int) *Status {
	return &Status{
		ranges: make([][]types.KeyRange, numLevels),
		delSz:  make([]int64, numLevels),
		tables: skipset.New[uint64](),
	}
}

func (s *Status) levelOverlaps(level int, kr types.KeyRange) bool {
	for _, r := range s.ranges[level] {
		if r.Overlaps(kr) {
			return true
		}
	}
	return false
}

// CompareAndAdd registers cd's ranges if neither this_level nor
// next_level currently has an overlapping range in flight. Returns false
// (without mutating state) if there's a conflict.
func (s *Status) CompareAndAdd(cd *CompactDef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.levelOverlaps(cd.ThisLevel, cd.ThisRange) {
		return false
	}
	if cd.NextLevel != cd.ThisLevel && s.levelOverlaps(cd.NextLevel, cd.NextRange) {
		return false
	}

	s.ranges[cd.ThisLevel] = append(s.ranges[cd.ThisLevel], cd.ThisRange)
	s.delSz[cd.ThisLevel] += cd.ThisSize
	if cd.NextLevel != cd.ThisLevel {
		s.ranges[cd.NextLevel] = append(s.ranges[cd.NextLevel], cd.NextRange)
	}
	for _, id := range cd.Tables {
		s.tables.Add(uint64(id))
	}
	return true
}

// Done releases cd's reservation once the compaction finishes (success
// or failure).
func (s *Status) Done(cd *CompactDef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges[cd.ThisLevel] = removeRange(s.ranges[cd.ThisLevel], cd.ThisRange)
	s.delSz[cd.ThisLevel] -= cd.ThisSize
	if cd.NextLevel != cd.ThisLevel {
		s.ranges[cd.NextLevel] = removeRange(s.ranges[cd.NextLevel], cd.NextRange)
	}
	for _, id := range cd.Tables {
		s.tables.Remove(uint64(id))
	}
}

func removeRange(ranges []types.KeyRange, target types.KeyRange) []types.KeyRange {
	for i, r := range ranges {
		if string(r.Left) == string(target.Left) && string(r.Right) == string(target.Right) {
			return append(ranges[:i], ranges[i+1:]...)
		}
	}
	return ranges
}

// DelSize returns the size of tables currently being compacted away from
// level, excluded from that level's priority score.
func (s *Status) DelSize(level int) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delSz[level]
}

// Compacting reports whether fid is part of an in-flight compaction.
func (s *Status) Compacting(fid types.FileID) bool {
	return s.tables.Contains(uint64(fid))
}
