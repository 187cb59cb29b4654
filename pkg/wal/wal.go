// Package wal implements the append-only write-ahead log that backs one
// memtable: a preallocated, memory-mapped fixed-size file holding
// varint(key_len) | varint(val_len) | key | val records.
package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"lsmdb/pkg/types"
	"lsmdb/pkg/varint"
)

// ErrFull is returned by Add when the record would not fit in the
// preallocated file.
var ErrFull = errors.New("wal: file full")

// Name returns the on-disk file name for a WAL with the given file id,
// e.g. "00042.wal".
func Name(fid types.FileID) string {
	return fmt.Sprintf("%05d.wal", fid)
}

// WAL is a single append-only log file, memory-mapped and preallocated to
// size bytes. Add never suspends: it is a bounds check plus a memcpy into
// the mapped region.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	data []byte // mmap'd region, len(data) == capacity
	off  int64  // write cursor; also WAL.Size()

	path string
	fid  types.FileID
}

// Create preallocates and memory-maps a new WAL file of the given capacity
// in dir, named after fid.
func Create(dir string, fid types.FileID, capacity int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	path := filepath.Join(dir, Name(fid))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", path, err)
	}
	if err := file.Truncate(capacity); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: truncate %s: %w", path, err)
	}

	return mapFile(file, path, fid, capacity, 0)
}

// Open memory-maps an existing WAL file. The caller should Replay it and
// then call Resume to position the write cursor after the last valid
// record before issuing further Add calls.
func Open(dir string, fid types.FileID) (*WAL, error) {
	path := filepath.Join(dir, Name(fid))
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	return mapFile(file, path, fid, info.Size(), 0)
}

func mapFile(file *os.File, path string, fid types.FileID, capacity int64, off int64) (*WAL, error) {
	if capacity == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("wal: zero-capacity file %s", path)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: mmap %s: %w", path, err)
	}
	return &WAL{file: file, data: data, off: off, path: path, fid: fid}, nil
}

// FileID returns the WAL's file id, which equals its owning memtable's id.
func (w *WAL) FileID() types.FileID { return w.fid }

// Path returns the WAL's on-disk path.
func (w *WAL) Path() string { return w.path }

// Add appends a record to the log and advances the write cursor. It never
// suspends: the write is a bounds check plus a copy into the mapped
// region (spec §5: "WAL write ... does not suspend").
func (w *WAL) Add(key, val []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	need := varint.Len32(uint32(len(key))) + varint.Len32(uint32(len(val))) + len(key) + len(val)
	if w.off+int64(need) > int64(len(w.data)) {
		return ErrFull
	}

	buf := w.data[w.off : w.off+int64(need)][:0]
	buf = varint.EncodeUint32(buf, uint32(len(key)))
	buf = varint.EncodeUint32(buf, uint32(len(val)))
	buf = append(buf, key...)
	buf = append(buf, val...)

	w.off += int64(need)
	return nil
}

// Size reports the number of bytes written to the log so far.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.off
}

// Sync flushes the mapped pages to disk, guaranteeing the WAL is durable
// before the caller acknowledges a write.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := unix.Msync(w.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("wal: msync %s: %w", w.path, err)
	}
	return nil
}

// Replay decodes every record from the start of the log, invoking fn for
// each. Iteration stops at the first record whose key length is zero
// (logical end of log, since the file is zero-filled) or when fn returns
// false. It returns the byte offset immediately after the last decoded
// record, so the caller can Resume appending from there.
func (w *WAL) Replay(fn func(key, val []byte) bool) (end int64, err error) {
	w.mu.Lock()
	data := w.data
	w.mu.Unlock()

	var off int64
	for {
		if off >= int64(len(data)) {
			return off, nil // log filled exactly to its end
		}
		keyLen, n1, ok := varint.DecodeUint32(data[off:])
		if !ok {
			return off, fmt.Errorf("wal: %s: truncated record at offset %d", w.path, off)
		}
		if keyLen == 0 {
			return off, nil
		}
		valLen, n2, ok := varint.DecodeUint32(data[off+int64(n1):])
		if !ok {
			return off, fmt.Errorf("wal: %s: truncated record at offset %d", w.path, off)
		}
		start := off + int64(n1) + int64(n2)
		recEnd := start + int64(keyLen) + int64(valLen)
		if recEnd > int64(len(data)) {
			return off, fmt.Errorf("wal: %s: record overruns file at offset %d", w.path, off)
		}
		key := data[start : start+int64(keyLen)]
		val := data[start+int64(keyLen) : recEnd]
		if !fn(key, val) {
			return recEnd, nil
		}
		off = recEnd
	}
}

// Resume positions the write cursor at off, used after Replay during
// recovery so subsequent Add calls append after the last recovered
// record instead of overwriting it.
func (w *WAL) Resume(off int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.off = off
}

// Close unmaps and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.data != nil {
		if err := unix.Munmap(w.data); err != nil {
			errs = append(errs, err)
		}
		w.data = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, err)
		}
		w.file = nil
	}
	return errors.Join(errs...)
}

// Remove closes the WAL (if not already closed) and deletes its backing
// file, matching the spec's "delete the WAL after the memtable has been
// flushed" lifecycle.
func (w *WAL) Remove() error {
	path := w.path
	if err := w.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: remove %s: %w", path, err)
	}
	return nil
}
