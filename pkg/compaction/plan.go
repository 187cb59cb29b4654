package compaction

import (
	"fmt"
	"time"

	"lsmdb/pkg/levels"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// CompactDef describes one planned compaction: which tables from
// ThisLevel and NextLevel participate, and the key ranges each side
// spans (used by Status to exclude overlapping future compactions).
type CompactDef struct {
	CompactID int
	Targets   Targets
	Priority  priority

	ThisLevel int
	NextLevel int
	ThisSize  int64

	Tables []types.FileID
	Top    []*sstable.Table
	Bot    []*sstable.Table

	ThisRange types.KeyRange
	NextRange types.KeyRange
}

const l0OverlapGuardAge = 10 * time.Second

// fillTablesL0ToL0 plans an L0-internal compaction: every L0 table not
// already compacting, not oversized, and at least l0OverlapGuardAge old.
// Only compactID 0 may run this, to avoid contention between workers all
// racing to rewrite L0.
func fillTablesL0ToL0(cd *CompactDef, mgr *levels.Manager, status *Status, now func() time.Time) error {
	if cd.CompactID != 0 {
		return fmt.Errorf("compaction: only worker 0 runs L0->L0 compaction")
	}
	cd.NextLevel = 0

	var picked []*sstable.Table
	for _, t := range mgr.Level(0).Tables() {
		if t.Size() >= 2*cd.Targets.FileSz[0] {
			continue
		}
		if now().Sub(t.CreatedAt()) < l0OverlapGuardAge {
			continue
		}
		if status.Compacting(t.FileID()) {
			continue
		}
		picked = append(picked, t)
	}
	if len(picked) < 4 {
		return fmt.Errorf("compaction: too few L0 tables eligible for L0->L0")
	}

	cd.Top = picked
	cd.ThisLevel = 0
	for _, t := range picked {
		cd.Tables = append(cd.Tables, t.FileID())
		cd.ThisRange = cd.ThisRange.Extend(types.KeyRange{Left: t.Smallest(), Right: t.Biggest()})
	}
	cd.Targets.FileSz[0] = 1 << 62 // don't split the merged L0 output further

	// L0 tables overlap by definition, so this plan isn't excluded by key
	// range the way L0->base and Li->Li+1 plans are; only the flat fileId
	// set needs the reservation.
	status.mu.Lock()
	for _, id := range cd.Tables {
		status.tables.Add(uint64(id))
	}
	status.mu.Unlock()
	return nil
}

// fillTablesL0ToBase plans a flush of every contiguous, overlapping L0
// table (newest first, L0's sort order) down into the base level, along with whichever
// base-level tables overlap that merged range.
func fillTablesL0ToBase(cd *CompactDef, mgr *levels.Manager, status *Status) error {
	if cd.NextLevel == 0 {
		return fmt.Errorf("compaction: base level cannot be zero")
	}
	if cd.Priority.adjusted > 0 && cd.Priority.adjusted < 1.0 {
		return fmt.Errorf("compaction: L0 priority below threshold")
	}

	top := mgr.Level(cd.ThisLevel).Tables()
	if len(top) == 0 {
		return fmt.Errorf("compaction: L0 empty")
	}

	var kr types.KeyRange
	for _, t := range top {
		dkr := types.KeyRange{Left: t.Smallest(), Right: t.Biggest()}
		if !kr.Overlaps(dkr) {
			break
		}
		cd.Top = append(cd.Top, t)
		cd.Tables = append(cd.Tables, t.FileID())
		kr = kr.Extend(dkr)
	}
	cd.ThisRange = kr

	bot := mgr.GetLevelOverlappingTables(cd.NextLevel, kr)
	cd.Bot = bot
	var botRange types.KeyRange
	for _, t := range bot {
		cd.ThisSize += t.Size()
		cd.Tables = append(cd.Tables, t.FileID())
		botRange = botRange.Extend(types.KeyRange{Left: t.Smallest(), Right: t.Biggest()})
	}
	cd.NextRange = botRange

	if !status.CompareAndAdd(cd) {
		return fmt.Errorf("compaction: key range already compacting")
	}
	return nil
}

// fillTablesLevelToLevel plans a rewrite of one table at ThisLevel, along
// with whichever next-level tables overlap it, one level down. It scans
// ThisLevel's tables in order (smallest key first, since L1+ levels are
// disjoint and sorted) and uses the first candidate whose range registers
// successfully with status, rather than giving up after the first one
// that loses a race to an in-flight compaction.
func fillTablesLevelToLevel(cd *CompactDef, mgr *levels.Manager, status *Status) error {
	this := mgr.Level(cd.ThisLevel).Tables()
	if len(this) == 0 {
		return fmt.Errorf("compaction: level %d empty", cd.ThisLevel)
	}

	base := *cd
	for _, t := range this {
		*cd = base

		kr := types.KeyRange{Left: t.Smallest(), Right: t.Biggest()}
		cd.Top = []*sstable.Table{t}
		cd.Tables = append(cd.Tables, t.FileID())
		cd.ThisRange = kr
		cd.ThisSize = t.Size()

		bot := mgr.GetLevelOverlappingTables(cd.NextLevel, kr)
		cd.Bot = bot
		var botRange types.KeyRange
		for _, bt := range bot {
			cd.Tables = append(cd.Tables, bt.FileID())
			botRange = botRange.Extend(types.KeyRange{Left: bt.Smallest(), Right: bt.Biggest()})
		}
		cd.NextRange = botRange

		if status.CompareAndAdd(cd) {
			return nil
		}
	}

	*cd = base
	return fmt.Errorf("compaction: level %d: no candidate table's key range was free to compact", cd.ThisLevel)
}
