package compaction

import (
	"lsmdb/pkg/config"
	"lsmdb/pkg/levels"
)

// Targets holds the computed per-level size target and output-table size,
// mirroring original_source's level_targets().
type Targets struct {
	BaseLevel int
	TargetSz  []int64
	FileSz    []int64
}

func adjust(cfg config.Options, sz int64) int64 {
	if sz > cfg.BaseLevelSize {
		return sz
	}
	return cfg.BaseLevelSize
}

// levelTargets computes, from the deepest level upward, the size each
// level should hold and the size of tables written into it, plus which
// level is the "base level" — the shallowest non-L0 level that should
// receive L0 flushes directly.
func levelTargets(cfg config.Options, mgr *levels.Manager) Targets {
	n := mgr.NumLevels()
	t := Targets{TargetSz: make([]int64, n), FileSz: make([]int64, n)}

	dbSize := mgr.Level(n - 1).TotalSize()
	for i := n - 1; i >= 1; i-- {
		levelTargetSz := adjust(cfg, dbSize)
		t.TargetSz[i] = levelTargetSz
		if t.BaseLevel == 0 && levelTargetSz <= cfg.BaseLevelSize {
			t.BaseLevel = i
		}
		if cfg.LevelSizeMultiplier > 0 {
			dbSize /= int64(cfg.LevelSizeMultiplier)
		}
	}

	tsz := cfg.BaseTableSize
	for i := 0; i < n; i++ {
		switch {
		case i == 0:
			t.FileSz[i] = cfg.MemtableSize
		case i <= t.BaseLevel:
			t.FileSz[i] = tsz
		default:
			tsz *= int64(cfg.TableSizeMultiplier)
			t.FileSz[i] = tsz
		}
	}

	for i := t.BaseLevel + 1; i < n; i++ {
		if mgr.Level(i).TotalSize() > 0 {
			break
		}
		t.BaseLevel = i
	}

	return t
}

// priority is one level's compaction priority score: num_L0_tables /
// num_level_zero_tables for L0, (total_size-compacting_size)/target for
// L1+.
type priority struct {
	level    int
	score    float64
	adjusted float64
	targets  Targets
}

func pickCompactLevels(cfg config.Options, mgr *levels.Manager, status *Status) []priority {
	t := levelTargets(cfg, mgr)
	n := mgr.NumLevels()

	var prios []priority
	l0Score := float64(len(mgr.Level(0).Tables())) / float64(max1(cfg.NumLevelZeroTables))
	prios = append(prios, priority{level: 0, score: l0Score, adjusted: l0Score, targets: t})

	for i := 1; i < n; i++ {
		delSz := status.DelSize(i)
		sz := mgr.Level(i).TotalSize() - delSz
		score := float64(sz) / float64(max1i64(t.TargetSz[i]))
		prios = append(prios, priority{level: i, score: score, adjusted: score, targets: t})
	}

	var out []priority
	for _, p := range prios {
		if p.score >= 1.0 {
			out = append(out, p)
		}
	}
	// ascending by adjusted score: the most urgent (highest score) handled
	// last so it's picked up again next tick if a worker only does one
	// compaction per pass — matches original_source's sort direction.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].adjusted > out[j].adjusted; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}

	return moveL0Front(out)
}

func moveL0Front(prios []priority) []priority {
	idx := -1
	for i, p := range prios {
		if p.level == 0 {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return prios
	}
	out := make([]priority, 0, len(prios))
	out = append(out, prios[idx])
	out = append(out, prios[:idx]...)
	out = append(out, prios[idx+1:]...)
	return out
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

func max1i64(v int64) int64 {
	if v <= 0 {
		return 1
	}
	return v
}
