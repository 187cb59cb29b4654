// Package sstable implements the immutable, sorted, on-disk table format:
// prefix-compressed blocks, a per-table bloom filter, and a block index
// held in the footer. Grounded on pkg/persistence/sstable.go's mmap'd
// reader and original_source/src/table/table_builder.rs's block layout.
package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/types"
	"lsmdb/pkg/wireformat"
)

// Name returns the on-disk file name for an SST with the given file id,
// e.g. "00042.sst".
func Name(fid types.FileID) string {
	return fmt.Sprintf("%05d.sst", fid)
}

// Table is a memory-mapped, read-only handle onto one SST file.
type Table struct {
	mu   sync.RWMutex
	file *os.File
	data []byte

	path   string
	fid    types.FileID
	index  wireformat.TableIndex
	filter *bloom.Filter

	smallest  []byte
	biggest   []byte
	createdAt time.Time
}

// Open memory-maps path and parses its footer (block index, bloom
// filter), verifying the index checksum.
func Open(path string, fid types.FileID) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("sstable: %s is empty", path)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("sstable: mmap %s: %w", path, err)
	}

	t := &Table{file: file, data: data, path: path, fid: fid, createdAt: info.ModTime()}
	if err := t.readFooter(); err != nil {
		_ = unix.Munmap(data)
		_ = file.Close()
		return nil, err
	}
	return t, nil
}

// readFooter parses, from the tail of the file:
// checksum_len:u32 | checksum | index_len:u32 | index.
func (t *Table) readFooter() error {
	data := t.data
	if len(data) < 8 {
		return fmt.Errorf("sstable: %s: file too small for footer", t.path)
	}
	checksumLen := binary.LittleEndian.Uint32(data[len(data)-4:])
	if checksumLen != 4 {
		return fmt.Errorf("sstable: %s: unsupported checksum_len %d", t.path, checksumLen)
	}
	tail := data[:len(data)-4]
	if len(tail) < int(checksumLen) {
		return fmt.Errorf("sstable: %s: truncated footer", t.path)
	}
	wantChecksum := binary.LittleEndian.Uint32(tail[len(tail)-4:])
	tail = tail[:len(tail)-4]

	if len(tail) < 4 {
		return fmt.Errorf("sstable: %s: truncated footer", t.path)
	}
	indexLen := binary.LittleEndian.Uint32(tail[len(tail)-4:])
	tail = tail[:len(tail)-4]
	if uint32(len(tail)) < indexLen {
		return fmt.Errorf("sstable: %s: index_len overruns file", t.path)
	}
	indexBytes := tail[len(tail)-int(indexLen):]

	if crc32.ChecksumIEEE(indexBytes) != wantChecksum {
		return fmt.Errorf("sstable: %s: index checksum mismatch", t.path)
	}

	index, err := wireformat.DecodeTableIndex(indexBytes)
	if err != nil {
		return fmt.Errorf("sstable: %s: decode index: %w", t.path, err)
	}
	if len(index.Offsets) == 0 {
		return fmt.Errorf("sstable: %s: empty block index", t.path)
	}

	t.index = index
	t.filter = bloom.FromBytes(index.BloomFilter)
	t.smallest = index.Offsets[0].Key
	t.biggest = lastBlockLargestKey(data, index.Offsets[len(index.Offsets)-1])
	return nil
}

func lastBlockLargestKey(data []byte, last wireformat.BlockOffset) []byte {
	block := data[last.Offset : last.Offset+last.Len]
	bi, err := newBlockIterator(block, last.Key)
	if err != nil {
		return last.Key
	}
	var biggest []byte
	for ok := bi.seekToFirst(); ok; ok = bi.next() {
		biggest = bi.key
	}
	if biggest == nil {
		return last.Key
	}
	return biggest
}

// FileID returns the table's file id.
func (t *Table) FileID() types.FileID { return t.fid }

// Path returns the table's on-disk path.
func (t *Table) Path() string { return t.path }

// Smallest returns the table's smallest key.
func (t *Table) Smallest() []byte { return t.smallest }

// Biggest returns the table's biggest key.
func (t *Table) Biggest() []byte { return t.biggest }

// Size returns the mapped file size in bytes.
func (t *Table) Size() int64 { return int64(len(t.data)) }

// CreatedAt returns the backing file's modification time, used by the
// compactor to avoid rewriting a table that was only just flushed.
func (t *Table) CreatedAt() time.Time { return t.createdAt }

// KeyCount returns the number of keys recorded in the table index.
func (t *Table) KeyCount() uint32 { return t.index.KeyCount }

// MayContain reports whether key could be present, using the table's
// bloom filter. A false result is authoritative; a true result requires
// a block lookup to confirm.
func (t *Table) MayContain(key []byte) bool {
	if t.filter == nil {
		return true
	}
	return t.filter.MayContain(key)
}

// Get performs a full point lookup: bloom filter check, then block
// binary search, then in-block binary search.
func (t *Table) Get(key []byte) ([]byte, bool, error) {
	if !t.MayContain(key) {
		return nil, false, nil
	}
	it, err := t.NewIterator()
	if err != nil {
		return nil, false, err
	}
	if !it.Seek(key) {
		return nil, false, nil
	}
	if string(it.Key()) != string(key) {
		return nil, false, nil
	}
	val := append([]byte(nil), it.Value()...)
	return val, true, nil
}

func (t *Table) blockAt(i int) ([]byte, error) {
	bo := t.index.Offsets[i]
	if bo.Offset+bo.Len > uint32(len(t.data)) {
		return nil, fmt.Errorf("sstable: %s: block %d overruns file", t.path, i)
	}
	return t.data[bo.Offset : bo.Offset+bo.Len], nil
}

// blockForKey returns the index of the last block whose base key is <=
// target, or 0 if target precedes every block's base key.
func (t *Table) blockForKey(target []byte) int {
	offsets := t.index.Offsets
	lo, hi := 0, len(offsets)-1
	result := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if string(offsets[mid].Key) <= string(target) {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// Close unmaps and closes the underlying file.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.data != nil {
		err = unix.Munmap(t.data)
		t.data = nil
	}
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
		t.file = nil
	}
	return err
}

// Remove closes the table and deletes its backing file, used by the
// compactor once replacement tables have been durably committed.
func (t *Table) Remove() error {
	path := t.path
	if err := t.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sstable: remove %s: %w", path, err)
	}
	return nil
}

// PathFor joins dir with the conventional file name for fid.
func PathFor(dir string, fid types.FileID) string {
	return filepath.Join(dir, Name(fid))
}
