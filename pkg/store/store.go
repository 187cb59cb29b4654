// Package store wires together the write-ahead log, memtable, level
// manager, manifest and background compactor into the engine's public
// Open/Set/Get/Delete surface, generalized from the teacher's typed
// Store (string/blob/int32 values plus a Delete-tombstone MD byte) to
// plain byte-string semantics where a zero-length value is a tombstone.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/compaction"
	"lsmdb/pkg/config"
	"lsmdb/pkg/levels"
	"lsmdb/pkg/manifest"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// Store is one open instance of the storage engine rooted at a work
// directory: a single active memtable accepting writes, any number of
// frozen memtables awaiting flush, the on-disk level catalogue, and the
// manifest recording which SSTs belong to which level.
type Store struct {
	mu         sync.RWMutex
	cfg        config.Options
	workDir    string
	instanceID uuid.UUID

	seqN *clock.SeqCounter
	ids  *types.FileIDCounter

	active    *memtable.Memtable
	immutable []*memtable.Memtable

	mgr *levels.Manager
	mf  *manifest.Manifest

	compactor *compaction.Compactor
	flushCh   chan *memtable.Memtable

	cancel func()
	closed bool
}

// Open recovers (or bootstraps) a store rooted at opts.WorkDir: replays
// the manifest, reconciles it against the files actually on disk,
// re-opens any un-flushed memtable WALs, and starts the background
// flush worker. The caller must call StartCompacter to begin background
// compaction and Close to shut everything down.
func Open(opts config.Options) (*Store, error) {
	if err := os.MkdirAll(opts.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create work dir: %w", err)
	}

	mf, err := manifest.Open(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("store: open manifest: %w", err)
	}

	sstIDs, walIDs, err := scanWorkDir(opts.WorkDir)
	if err != nil {
		_ = mf.Close()
		return nil, err
	}

	actual := make(map[types.FileID]bool, len(sstIDs))
	for _, id := range sstIDs {
		actual[id] = true
	}
	orphans, err := mf.Revert(actual)
	if err != nil {
		_ = mf.Close()
		return nil, fmt.Errorf("store: reconcile manifest: %w", err)
	}
	for _, id := range orphans {
		path := sstable.PathFor(opts.WorkDir, id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("store: failed to remove orphan table", "file_id", id, "error", err)
		}
	}

	mgr, err := levels.Open(opts.WorkDir, opts.MaxLevelNum, mf.Tables())
	if err != nil {
		_ = mf.Close()
		return nil, fmt.Errorf("store: open level manager: %w", err)
	}

	ids := types.NewFileIDCounter(0)
	for _, tm := range mf.Tables() {
		ids.Observe(tm.ID)
	}
	for _, id := range walIDs {
		ids.Observe(id)
	}

	active, immutable, maxSeqN, err := recoverMemtables(opts, walIDs, ids)
	if err != nil {
		_ = mgr.Close()
		_ = mf.Close()
		return nil, err
	}

	s := &Store{
		cfg:        opts,
		workDir:    opts.WorkDir,
		instanceID: uuid.New(),
		seqN:       clock.NewSeqCounter(maxSeqN),
		ids:        ids,
		active:     active,
		immutable:  immutable,
		mgr:        mgr,
		mf:         mf,
		flushCh:    make(chan *memtable.Memtable, 8),
	}
	s.compactor = compaction.New(opts, mgr, mf, ids, opts.WorkDir)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.runFlusher(ctx)

	for _, mt := range immutable {
		s.flushCh <- mt
	}

	slog.Info("store: opened", "work_dir", opts.WorkDir, "instance_id", s.instanceID, "levels", mgr.NumLevels())
	return s, nil
}

// StartCompacter launches the background compaction worker pool. It is
// separate from Open so callers can finish any one-time migration work
// before compaction starts touching the level catalogue.
func (s *Store) StartCompacter(ctx context.Context) {
	s.compactor.Start(ctx)
}

// InstanceID returns the UUID minted for this store instance at Open,
// surfaced by the admin HTTP server for log correlation.
func (s *Store) InstanceID() uuid.UUID { return s.instanceID }

// LevelStat summarizes one level's table count and total byte size, used
// by the read-only admin HTTP surface.
type LevelStat struct {
	Level      int
	NumTables  int
	TotalBytes int64
}

// Stats returns a per-level snapshot of the table catalogue.
func (s *Store) Stats() []LevelStat {
	out := make([]LevelStat, s.mgr.NumLevels())
	for i := range out {
		lvl := s.mgr.Level(i)
		out[i] = LevelStat{Level: i, NumTables: len(lvl.Tables()), TotalBytes: lvl.TotalSize()}
	}
	return out
}

// Set durably writes key=value, assigning it the next sequence number.
// An empty, non-nil value is indistinguishable from Delete.
func (s *Store) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	seq := s.seqN.Next()
	for {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return ErrClosed
		}
		mt := s.active
		s.mu.RUnlock()

		err := mt.Insert(key, value, seq)
		if err == nil {
			break
		}
		if !errors.Is(err, memtable.ErrFrozen) {
			return fmt.Errorf("store: set %q: %w", key, err)
		}
		// lost the race with a concurrent rotation; retry against the new
		// active memtable.
	}
	s.maybeRotate()
	return nil
}

// Delete logically removes key by writing a zero-length tombstone value.
func (s *Store) Delete(key []byte) error {
	return s.Set(key, []byte{})
}

// Get returns the current value for key, checking the active memtable,
// then frozen memtables newest-first, then the level catalogue. A
// tombstone at any layer shadows anything below it and is reported as
// not-found.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, ErrClosed
	}
	mt := s.active
	immutable := make([]*memtable.Memtable, len(s.immutable))
	copy(immutable, s.immutable)
	s.mu.RUnlock()

	if item, ok := mt.Get(key); ok {
		if item.Tombstone() {
			return nil, false, nil
		}
		return item.Value, true, nil
	}
	for i := len(immutable) - 1; i >= 0; i-- {
		if item, ok := immutable[i].Get(key); ok {
			if item.Tombstone() {
				return nil, false, nil
			}
			return item.Value, true, nil
		}
	}

	val, ok, err := s.mgr.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("store: get %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	if len(val) == 0 {
		return nil, false, nil // tombstone persisted into an SST
	}
	return val, true, nil
}

// maybeRotate freezes the active memtable and starts a fresh one once
// the active memtable has reached its configured size, handing the
// frozen one to the flush worker.
func (s *Store) maybeRotate() {
	s.mu.Lock()
	mt := s.active
	if mt.Size() < s.cfg.MemtableSize {
		s.mu.Unlock()
		return
	}
	mt.Freeze()

	fid := s.ids.Next()
	next, err := memtable.New(s.workDir, fid, s.cfg.MemtableSize)
	if err != nil {
		// keep serving reads/writes off the oversized memtable rather than
		// wedge the store; the next rotation attempt will retry.
		slog.Error("store: failed to rotate memtable", "error", err)
		s.mu.Unlock()
		return
	}
	s.active = next
	s.immutable = append(s.immutable, mt)
	s.mu.Unlock()

	s.flushCh <- mt
}

// Close stops the compactor and flush worker and closes every open
// file. It does not flush the active memtable: its WAL remains on disk
// for the next Open to replay.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	immutable := make([]*memtable.Memtable, len(s.immutable))
	copy(immutable, s.immutable)
	s.mu.Unlock()

	s.compactor.Stop()
	s.cancel()

	var errs []error
	if err := active.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, mt := range immutable {
		if err := mt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.mf.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func scanWorkDir(dir string) (sstIDs, walIDs []types.FileID, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("store: read work dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".sst"):
			if id, ok := parseFileID(name, ".sst"); ok {
				sstIDs = append(sstIDs, id)
			}
		case strings.HasSuffix(name, ".wal"):
			if id, ok := parseFileID(name, ".wal"); ok {
				walIDs = append(walIDs, id)
			}
		}
	}
	sort.Slice(walIDs, func(i, j int) bool { return walIDs[i] < walIDs[j] })
	return sstIDs, walIDs, nil
}

func parseFileID(name, ext string) (types.FileID, bool) {
	base := strings.TrimSuffix(name, ext)
	id, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return types.FileID(id), true
}
