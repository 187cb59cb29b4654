package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/wireformat"
)

// Builder accumulates key/value pairs in ascending order and flushes them
// to a single SST file: a sequence of prefix-compressed blocks followed
// by a footer holding the block index and a bloom filter over every key
// added (grounded on original_source's table_builder.rs add()/finish()).
type Builder struct {
	blockSize int

	tableBuf []byte
	offsets  []wireformat.BlockOffset

	curEntries []byte
	curOffsets []uint32
	curBase    []byte

	keyHashes []uint32
	numKeys   uint32
}

// NewBuilder creates a builder that packs entries into blocks of roughly
// blockSize bytes before rolling over to the next block.
func NewBuilder(blockSize int) *Builder {
	return &Builder{blockSize: blockSize}
}

// Add appends the next key/value pair. Keys must be supplied in strictly
// ascending order; callers (flush, compaction) are responsible for that
// ordering.
func (b *Builder) Add(key, value []byte) {
	if len(b.curEntries) == 0 {
		b.curBase = append([]byte(nil), key...)
	}

	entry := encodeEntry(b.curBase, key, value)
	b.curOffsets = append(b.curOffsets, uint32(len(b.curEntries)))
	b.curEntries = append(b.curEntries, entry...)

	b.keyHashes = append(b.keyHashes, bloom.Hash32(key))
	b.numKeys++

	if b.estimatedBlockSize() >= b.blockSize {
		b.finishBlock()
	}
}

func (b *Builder) estimatedBlockSize() int {
	return len(b.curEntries) + len(b.curOffsets)*4 + 12
}

// finishBlock closes out the in-progress block, appends its bytes to the
// table buffer, and records its base key and span in the index.
func (b *Builder) finishBlock() {
	if len(b.curOffsets) == 0 {
		return
	}
	block := buildBlock(b.curEntries, b.curOffsets)
	b.offsets = append(b.offsets, wireformat.BlockOffset{
		Key:    b.curBase,
		Offset: uint32(len(b.tableBuf)),
		Len:    uint32(len(block)),
	})
	b.tableBuf = append(b.tableBuf, block...)

	b.curEntries = nil
	b.curOffsets = nil
	b.curBase = nil
}

// Empty reports whether any entry has been added.
func (b *Builder) Empty() bool { return b.numKeys == 0 }

// ReachedCapacity reports whether the table buffer built so far (plus an
// estimate of the pending block) has reached maxSize, used by the flush
// and compaction paths to decide when to roll over to a new output file.
func (b *Builder) ReachedCapacity(maxSize int) bool {
	return len(b.tableBuf)+b.estimatedBlockSize() >= maxSize
}

// EstimatedSize returns the number of bytes written to the table so far,
// including the in-progress block.
func (b *Builder) EstimatedSize() int {
	return len(b.tableBuf) + b.estimatedBlockSize()
}

// Finish flushes the in-progress block and writes the complete SST file
// (blocks + footer) to path. falsePositive controls the bloom filter's
// target false-positive rate. A filter is always written; a rate outside
// (0, 1), including <= 0, is treated as 0.01.
func (b *Builder) Finish(path string, falsePositive float64) error {
	b.finishBlock()

	filter := bloom.NewFromKeys(b.keyHashes, falsePositive)
	index := wireformat.TableIndex{
		Offsets:     b.offsets,
		BloomFilter: filter.Bytes(),
		KeyCount:    b.numKeys,
	}
	indexBytes := wireformat.EncodeTableIndex(index)
	checksum := crc32.ChecksumIEEE(indexBytes)

	footer := make([]byte, 0, len(indexBytes)+12)
	footer = append(footer, indexBytes...)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(indexBytes)))
	footer = binary.LittleEndian.AppendUint32(footer, checksum)
	footer = binary.LittleEndian.AppendUint32(footer, 4)

	out := make([]byte, 0, len(b.tableBuf)+len(footer))
	out = append(out, b.tableBuf...)
	out = append(out, footer...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("sstable: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sstable: rename %s: %w", path, err)
	}
	return nil
}
