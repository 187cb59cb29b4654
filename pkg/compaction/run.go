package compaction

import (
	"fmt"
	"log/slog"

	"lsmdb/pkg/levels"
	"lsmdb/pkg/manifest"
	"lsmdb/pkg/mergeiter"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
	"lsmdb/pkg/wireformat"
)

// run executes cd: merges cd.Top and cd.Bot in key order, writes new
// tables at cd.NextLevel sized to cd.Targets.FileSz[cd.NextLevel], commits
// the manifest change recording the swap, and updates the level manager.
func run(cd *CompactDef, mgr *levels.Manager, mf *manifest.Manifest, ids *types.FileIDCounter, workDir string, cfg tableOptions) error {
	ranges := splitKeyRanges(cd)

	type subResult struct {
		tables []*sstable.Table
		err    error
	}
	resultsCh := make(chan subResult, len(ranges))

	for _, r := range ranges {
		r := r
		go func() {
			tables, err := runSubCompaction(cd, r, mgr, ids, workDir, cfg)
			resultsCh <- subResult{tables: tables, err: err}
		}()
	}

	var newTables []*sstable.Table
	var firstErr error
	for range ranges {
		res := <-resultsCh
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			continue
		}
		newTables = append(newTables, res.tables...)
	}
	if firstErr != nil {
		for _, t := range newTables {
			_ = t.Remove()
		}
		return fmt.Errorf("compaction: sub-compaction: %w", firstErr)
	}

	var changes []wireformat.ManifestChange
	for _, id := range cd.Tables {
		changes = append(changes, manifest.DeleteChange(id))
	}
	for _, t := range newTables {
		changes = append(changes, manifest.CreateChange(t.FileID(), cd.NextLevel))
	}
	if err := mf.AddChanges(changes); err != nil {
		for _, t := range newTables {
			_ = t.Remove()
		}
		return fmt.Errorf("compaction: commit manifest: %w", err)
	}

	if cd.ThisLevel != cd.NextLevel {
		removedThis, err := mgr.DeleteLevelTables(cd.ThisLevel, tableIDsOf(cd.Top))
		if err != nil {
			return fmt.Errorf("compaction: remove this-level tables: %w", err)
		}
		removedBot, err := mgr.ReplaceLevelTables(cd.NextLevel, tableIDsOf(cd.Bot), newTables)
		if err != nil {
			return fmt.Errorf("compaction: replace next-level tables: %w", err)
		}
		for _, t := range append(removedThis, removedBot...) {
			if err := t.Remove(); err != nil {
				slog.Warn("compaction: failed to remove replaced table", "file_id", t.FileID(), "error", err)
			}
		}
	} else {
		removed, err := mgr.ReplaceLevelTables(cd.ThisLevel, cd.Tables, newTables)
		if err != nil {
			return fmt.Errorf("compaction: replace L0 tables: %w", err)
		}
		for _, t := range removed {
			if err := t.Remove(); err != nil {
				slog.Warn("compaction: failed to remove replaced L0 table", "file_id", t.FileID(), "error", err)
			}
		}
	}

	return nil
}

func tableIDsOf(tables []*sstable.Table) []types.FileID {
	ids := make([]types.FileID, len(tables))
	for i, t := range tables {
		ids[i] = t.FileID()
	}
	return ids
}

// splitKeyRanges divides cd's merged input into sub-ranges so each
// sub-compaction goroutine can merge independently without overlapping
// another's output keys. Split width is max(3, ceil(|bot|/5)); the
// boundary before every width'th bottom table's max_key becomes a split
// point, and the final bottom table's max_key always ends the list, per
// the bottom-table-driven split rule (not the top-level tables' own
// boundaries, which would miss overlap with any of the bottom level).
func splitKeyRanges(cd *CompactDef) []types.KeyRange {
	bot := cd.Bot
	if len(cd.Top) <= 1 || len(bot) == 0 {
		return []types.KeyRange{{}} // one unbounded sub-range over every input
	}

	width := (len(bot) + 4) / 5 // ceil(len(bot) / 5)
	if width < 3 {
		width = 3
	}

	var boundaries [][]byte
	for i := width - 1; i < len(bot); i += width {
		boundaries = append(boundaries, bot[i].Biggest())
	}
	last := bot[len(bot)-1].Biggest()
	if len(boundaries) == 0 || string(boundaries[len(boundaries)-1]) != string(last) {
		boundaries = append(boundaries, last)
	}

	// Right is an exclusive upper bound here (nil/empty means unbounded),
	// distinct from types.KeyRange's usual inclusive meaning: it only
	// exists to tell one sub-compaction's merge where to stop, not to
	// describe a published table's key span.
	var out []types.KeyRange
	left := cd.ThisRange.Extend(cd.NextRange).Left
	for i, b := range boundaries {
		if i == len(boundaries)-1 {
			out = append(out, types.KeyRange{Left: left, Right: nil})
			break
		}
		out = append(out, types.KeyRange{Left: left, Right: b})
		left = b
	}
	return out
}

// tableOptions is the subset of config.Options the write path needs to
// size new SST output. SSTableMaxSize caps output tables only when cd
// carries no file-size target for its next level.
type tableOptions struct {
	BlockSize          int
	SSTableMaxSize     int64
	BloomFalsePositive float64
}

func runSubCompaction(cd *CompactDef, kr types.KeyRange, mgr *levels.Manager, ids *types.FileIDCounter, workDir string, cfg tableOptions) ([]*sstable.Table, error) {
	sources := make([]mergeiter.Source, 0, len(cd.Top)+len(cd.Bot))
	for _, t := range append(append([]*sstable.Table{}, cd.Top...), cd.Bot...) {
		it, err := t.NewIterator()
		if err != nil {
			return nil, err
		}
		if it.Seek(kr.Left) {
			sources = append(sources, it)
		}
	}
	merged := mergeiter.New(sources)

	isLastLevel := cd.NextLevel == mgr.NumLevels()-1

	maxSize := cfg.SSTableMaxSize
	if cd.NextLevel < len(cd.Targets.FileSz) && cd.Targets.FileSz[cd.NextLevel] > 0 {
		maxSize = cd.Targets.FileSz[cd.NextLevel]
	}

	var out []*sstable.Table
	builder := sstable.NewBuilder(cfg.BlockSize)
	for merged.Next() {
		key := merged.Key()
		if len(kr.Right) > 0 && string(key) >= string(kr.Right) {
			break
		}
		if merged.Tombstone() && isLastLevel {
			continue // tombstones are dropped once nothing below can shadow them
		}
		builder.Add(key, merged.Value())

		if builder.ReachedCapacity(int(maxSize)) {
			tbl, err := flushBuilder(builder, ids, workDir, cfg)
			if err != nil {
				return out, err
			}
			out = append(out, tbl)
			builder = sstable.NewBuilder(cfg.BlockSize)
		}
	}
	if !builder.Empty() {
		tbl, err := flushBuilder(builder, ids, workDir, cfg)
		if err != nil {
			return out, err
		}
		out = append(out, tbl)
	}
	return out, nil
}

func flushBuilder(b *sstable.Builder, ids *types.FileIDCounter, workDir string, cfg tableOptions) (*sstable.Table, error) {
	fid := ids.Next()
	path := sstable.PathFor(workDir, fid)
	if err := b.Finish(path, cfg.BloomFalsePositive); err != nil {
		return nil, fmt.Errorf("compaction: write table %d: %w", fid, err)
	}
	return sstable.Open(path, fid)
}
