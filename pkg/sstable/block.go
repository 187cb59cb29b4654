package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// entryHeaderSize is the fixed-width (overlap:u16, diff:u16) prefix that
// precedes every entry's key suffix and value.
const entryHeaderSize = 4

// buildBlock assembles one block's byte representation from its pending
// entries: [entries] [offsets u32 each] [num_entries:u32] [checksum]
// [checksum_len:u32]. offsets are relative to the start of the block.
func buildBlock(entries []byte, offsets []uint32) []byte {
	body := make([]byte, 0, len(entries)+len(offsets)*4+4)
	body = append(body, entries...)
	for _, off := range offsets {
		body = binary.LittleEndian.AppendUint32(body, off)
	}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(offsets)))

	checksum := crc32.ChecksumIEEE(body)
	out := make([]byte, 0, len(body)+8)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, checksum)
	out = binary.LittleEndian.AppendUint32(out, 4)
	return out
}

// encodeEntry returns the header+suffix+value bytes for one block entry,
// prefix-compressing key against the block's fixed base key (the block's
// first key), not the previous entry — this lets every entry be decoded
// independently of its neighbors.
func encodeEntry(baseKey, key, value []byte) []byte {
	overlap := commonPrefixLen(baseKey, key)
	suffix := key[overlap:]

	entry := make([]byte, entryHeaderSize+len(suffix)+len(value))
	binary.LittleEndian.PutUint16(entry[0:2], uint16(overlap))
	binary.LittleEndian.PutUint16(entry[2:4], uint16(len(suffix)))
	copy(entry[entryHeaderSize:], suffix)
	copy(entry[entryHeaderSize+len(suffix):], value)
	return entry
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// blockIterator walks the prefix-compressed entries of a single decoded
// block in ascending order. Every entry's key is reconstructed from the
// block's fixed baseKey, so entries can be decoded in any order and seek
// can binary-search the offsets array instead of scanning from the start.
type blockIterator struct {
	entries []byte // the raw entries region, offset 0 == first entry
	offsets []uint32
	baseKey []byte

	idx   int
	key   []byte
	value []byte
}

func newBlockIterator(block []byte, baseKey []byte) (*blockIterator, error) {
	if len(block) < 8 {
		return nil, fmt.Errorf("sstable: block too short (%d bytes)", len(block))
	}
	checksumLen := binary.LittleEndian.Uint32(block[len(block)-4:])
	if checksumLen != 4 || uint32(len(block)) < checksumLen+8 {
		return nil, fmt.Errorf("sstable: bad block checksum_len %d", checksumLen)
	}
	body := block[:len(block)-8]
	wantChecksum := binary.LittleEndian.Uint32(block[len(block)-8 : len(block)-4])
	if got := crc32.ChecksumIEEE(body); got != wantChecksum {
		return nil, fmt.Errorf("sstable: block checksum mismatch: got %x want %x", got, wantChecksum)
	}

	if len(body) < 4 {
		return nil, fmt.Errorf("sstable: block body too short")
	}
	numEntries := binary.LittleEndian.Uint32(body[len(body)-4:])
	body = body[:len(body)-4]

	offsetsBytes := int(numEntries) * 4
	if offsetsBytes > len(body) {
		return nil, fmt.Errorf("sstable: block offsets array overruns body")
	}
	entries := body[:len(body)-offsetsBytes]
	offsetsRaw := body[len(body)-offsetsBytes:]

	offsets := make([]uint32, numEntries)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(offsetsRaw[i*4 : i*4+4])
	}

	return &blockIterator{entries: entries, offsets: offsets, baseKey: baseKey, idx: -1}, nil
}

func (bi *blockIterator) numEntries() int { return len(bi.offsets) }

func (bi *blockIterator) entryBounds(i int) (start, end int) {
	start = int(bi.offsets[i])
	if i+1 < len(bi.offsets) {
		end = int(bi.offsets[i+1])
	} else {
		end = len(bi.entries)
	}
	return start, end
}

// decodeAt reconstructs the key and value of entry i directly from the
// block's base key, independent of any other entry.
func (bi *blockIterator) decodeAt(i int) (key, value []byte, ok bool) {
	start, end := bi.entryBounds(i)
	entry := bi.entries[start:end]
	if len(entry) < entryHeaderSize {
		return nil, nil, false
	}
	overlap := int(binary.LittleEndian.Uint16(entry[0:2]))
	diff := int(binary.LittleEndian.Uint16(entry[2:4]))
	if overlap > len(bi.baseKey) || entryHeaderSize+diff > len(entry) {
		return nil, nil, false
	}
	suffix := entry[entryHeaderSize : entryHeaderSize+diff]

	key = make([]byte, overlap+diff)
	copy(key, bi.baseKey[:overlap])
	copy(key[overlap:], suffix)
	value = entry[entryHeaderSize+diff:]
	return key, value, true
}

// seekToFirst resets the iterator to entry 0.
func (bi *blockIterator) seekToFirst() bool {
	bi.idx = -1
	return bi.next()
}

// next decodes the following entry. Returns false at end of block.
func (bi *blockIterator) next() bool {
	bi.idx++
	if bi.idx >= len(bi.offsets) {
		return false
	}
	key, value, ok := bi.decodeAt(bi.idx)
	if !ok {
		return false
	}
	bi.key = key
	bi.value = value
	return true
}

// seek binary-searches the offsets array for the first entry with key >=
// target. This only works because every entry decodes independently of
// its neighbors (base-key compression, not predecessor compression).
func (bi *blockIterator) seek(target []byte) bool {
	lo, hi := 0, len(bi.offsets)
	for lo < hi {
		mid := (lo + hi) / 2
		key, _, ok := bi.decodeAt(mid)
		if !ok {
			return false
		}
		if string(key) < string(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(bi.offsets) {
		return false
	}
	key, value, ok := bi.decodeAt(lo)
	if !ok {
		return false
	}
	bi.idx = lo
	bi.key = key
	bi.value = value
	return true
}
