package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"lsmdb/pkg/config"
	"lsmdb/pkg/levels"
	"lsmdb/pkg/manifest"
	"lsmdb/pkg/types"
)

// tickInterval is the base period between a worker's compaction attempts.
// startupJitterMax bounds the one-time randomized delay before a worker's
// first tick, so num_compactors workers don't all wake up in lockstep.
const (
	tickInterval     = 5 * time.Second
	startupJitterMax = time.Second
)

// Compactor owns the fixed pool of background workers that keep the
// level manager's shape within the configured size targets, grounded in
// pkg/store/flusher.go's context.WithCancel-based Start/Stop over a
// ticker-driven loop.
type Compactor struct {
	cfg     config.Options
	mgr     *levels.Manager
	mf      *manifest.Manifest
	ids     *types.FileIDCounter
	workDir string
	status  *Status

	cancel func()
}

// New builds a Compactor over mgr/mf, allocating new file ids from ids.
func New(cfg config.Options, mgr *levels.Manager, mf *manifest.Manifest, ids *types.FileIDCounter, workDir string) *Compactor {
	return &Compactor{
		cfg:     cfg,
		mgr:     mgr,
		mf:      mf,
		ids:     ids,
		workDir: workDir,
		status:  NewStatus(mgr.NumLevels()),
		cancel:  func() {},
	}
}

// Start launches cfg.NumCompactors workers, each with its own randomized
// startup delay, and returns immediately. Stop (or ctx cancellation) halts
// them.
func (c *Compactor) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	n := c.cfg.NumCompactors
	if n < 1 {
		n = 1
	}
	for worker := 0; worker < n; worker++ {
		go c.runWorker(ctx, worker)
	}
}

// Stop cancels every worker's context. It returns without waiting for
// the workers to exit; a compaction pass already running is not
// interrupted.
func (c *Compactor) Stop() {
	c.cancel()
}

func (c *Compactor) runWorker(ctx context.Context, workerID int) {
	jitter := time.Duration(rand.Int64N(int64(startupJitterMax)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.runOnce(workerID); err != nil {
				slog.Debug("compaction: pass skipped", "worker", workerID, "error", err)
			}
		}
	}
}

// runOnce tries the eligible levels in the order pickCompactLevels
// returns them and runs the first compaction that plans successfully.
func (c *Compactor) runOnce(workerID int) error {
	prios := pickCompactLevels(c.cfg, c.mgr, c.status)
	if len(prios) == 0 {
		return fmt.Errorf("compaction: nothing eligible")
	}

	var lastErr error
	for _, p := range prios {
		cd := &CompactDef{
			CompactID: workerID,
			Targets:   p.targets,
			Priority:  p,
			ThisLevel: p.level,
			NextLevel: nextLevelFor(p, c.mgr.NumLevels()),
		}

		var err error
		switch {
		case p.level == 0 && cd.NextLevel == 0:
			err = fillTablesL0ToL0(cd, c.mgr, c.status, time.Now)
		case p.level == 0:
			err = fillTablesL0ToBase(cd, c.mgr, c.status)
		default:
			err = fillTablesLevelToLevel(cd, c.mgr, c.status)
		}
		if err != nil {
			lastErr = err
			continue
		}

		logCompactionStart(workerID, cd)
		runErr := run(cd, c.mgr, c.mf, c.ids, c.workDir, tableOptions{
			BlockSize:          c.cfg.BlockSize,
			SSTableMaxSize:     c.cfg.SSTableMaxSize,
			BloomFalsePositive: c.cfg.BloomFalsePositive,
		})
		c.status.Done(cd)
		if runErr != nil {
			slog.Error("compaction: run failed", "compact_id", cd.CompactID, "this_level", cd.ThisLevel, "next_level", cd.NextLevel, "error", runErr)
			return runErr
		}
		slog.Info("compaction: completed", "compact_id", cd.CompactID, "this_level", cd.ThisLevel, "next_level", cd.NextLevel, "tables_in", len(cd.Tables))
		return nil
	}
	return lastErr
}

func nextLevelFor(p priority, numLevels int) int {
	if p.level == 0 {
		if p.targets.BaseLevel == 0 {
			return 0
		}
		return p.targets.BaseLevel
	}
	if p.level+1 >= numLevels {
		return p.level // deepest level: same-level rewrite (spec's documented no-op case)
	}
	return p.level + 1
}

func logCompactionStart(workerID int, cd *CompactDef) {
	slog.Debug("compaction: starting",
		"compact_id", workerID,
		"this_level", cd.ThisLevel,
		"next_level", cd.NextLevel,
		"top_tables", len(cd.Top),
		"bot_tables", len(cd.Bot),
	)
}
