// Package wireformat encodes the structured records that cross the SST
// footer and the manifest log (TableIndex/BlockOffset, ManifestChangeSet/
// ManifestChange) using the protobuf wire format, matching the message
// shapes defined by original_source's prost-generated pb.rs.
package wireformat

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// BlockOffset records one SST block's base key, byte offset and length.
type BlockOffset struct {
	Key    []byte
	Offset uint32
	Len    uint32
}

// TableIndex is the structured footer record: the per-block offset table,
// the serialized bloom filter, and the total key count.
type TableIndex struct {
	Offsets     []BlockOffset
	BloomFilter []byte
	KeyCount    uint32
}

const (
	fieldIndexOffsets  = protowire.Number(1)
	fieldIndexBloom    = protowire.Number(2)
	fieldIndexKeyCount = protowire.Number(3)

	fieldOffsetKey    = protowire.Number(1)
	fieldOffsetOffset = protowire.Number(2)
	fieldOffsetLen    = protowire.Number(3)
)

func encodeBlockOffset(bo BlockOffset) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOffsetKey, protowire.BytesType)
	b = protowire.AppendBytes(b, bo.Key)
	b = protowire.AppendTag(b, fieldOffsetOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(bo.Offset))
	b = protowire.AppendTag(b, fieldOffsetLen, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(bo.Len))
	return b
}

func decodeBlockOffset(data []byte) (BlockOffset, error) {
	var bo BlockOffset
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return bo, fmt.Errorf("wireformat: bad BlockOffset tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldOffsetKey:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return bo, fmt.Errorf("wireformat: bad BlockOffset.key: %w", protowire.ParseError(m))
			}
			bo.Key = append([]byte(nil), v...)
			data = data[m:]
		case fieldOffsetOffset:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return bo, fmt.Errorf("wireformat: bad BlockOffset.offset: %w", protowire.ParseError(m))
			}
			bo.Offset = uint32(v)
			data = data[m:]
		case fieldOffsetLen:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return bo, fmt.Errorf("wireformat: bad BlockOffset.len: %w", protowire.ParseError(m))
			}
			bo.Len = uint32(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return bo, fmt.Errorf("wireformat: bad BlockOffset field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return bo, nil
}

// EncodeTableIndex serializes idx as a protobuf-wire-format TableIndex
// message.
func EncodeTableIndex(idx TableIndex) []byte {
	var b []byte
	for _, off := range idx.Offsets {
		b = protowire.AppendTag(b, fieldIndexOffsets, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeBlockOffset(off))
	}
	if len(idx.BloomFilter) > 0 {
		b = protowire.AppendTag(b, fieldIndexBloom, protowire.BytesType)
		b = protowire.AppendBytes(b, idx.BloomFilter)
	}
	b = protowire.AppendTag(b, fieldIndexKeyCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(idx.KeyCount))
	return b
}

// DecodeTableIndex parses a protobuf-wire-format TableIndex message.
func DecodeTableIndex(data []byte) (TableIndex, error) {
	var idx TableIndex
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return idx, fmt.Errorf("wireformat: bad TableIndex tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldIndexOffsets:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return idx, fmt.Errorf("wireformat: bad TableIndex.offsets: %w", protowire.ParseError(m))
			}
			bo, err := decodeBlockOffset(v)
			if err != nil {
				return idx, err
			}
			idx.Offsets = append(idx.Offsets, bo)
			data = data[m:]
		case fieldIndexBloom:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return idx, fmt.Errorf("wireformat: bad TableIndex.bloom_filter: %w", protowire.ParseError(m))
			}
			idx.BloomFilter = append([]byte(nil), v...)
			data = data[m:]
		case fieldIndexKeyCount:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return idx, fmt.Errorf("wireformat: bad TableIndex.key_count: %w", protowire.ParseError(m))
			}
			idx.KeyCount = uint32(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return idx, fmt.Errorf("wireformat: bad TableIndex field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return idx, nil
}

// ManifestOp is the operation carried by a ManifestChange record.
type ManifestOp uint32

const (
	OpCreate ManifestOp = 0
	OpDelete ManifestOp = 1
)

// ManifestChange describes one atomic mutation to the manifest's table
// catalogue.
type ManifestChange struct {
	ID       uint64
	Op       ManifestOp
	Level    uint32
	Checksum []byte
}

// ManifestChangeSet is a list of changes applied atomically.
type ManifestChangeSet struct {
	Changes []ManifestChange
}

const (
	fieldChangeSetChanges = protowire.Number(1)

	fieldChangeID       = protowire.Number(1)
	fieldChangeOp       = protowire.Number(2)
	fieldChangeLevel    = protowire.Number(3)
	fieldChangeChecksum = protowire.Number(4)
)

func encodeManifestChange(c ManifestChange) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldChangeID, protowire.VarintType)
	b = protowire.AppendVarint(b, c.ID)
	b = protowire.AppendTag(b, fieldChangeOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Op))
	b = protowire.AppendTag(b, fieldChangeLevel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Level))
	if len(c.Checksum) > 0 {
		b = protowire.AppendTag(b, fieldChangeChecksum, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Checksum)
	}
	return b
}

func decodeManifestChange(data []byte) (ManifestChange, error) {
	var c ManifestChange
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, fmt.Errorf("wireformat: bad ManifestChange tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldChangeID:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("wireformat: bad ManifestChange.id: %w", protowire.ParseError(m))
			}
			c.ID = v
			data = data[m:]
		case fieldChangeOp:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("wireformat: bad ManifestChange.op: %w", protowire.ParseError(m))
			}
			c.Op = ManifestOp(v)
			data = data[m:]
		case fieldChangeLevel:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("wireformat: bad ManifestChange.level: %w", protowire.ParseError(m))
			}
			c.Level = uint32(v)
			data = data[m:]
		case fieldChangeChecksum:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("wireformat: bad ManifestChange.checksum: %w", protowire.ParseError(m))
			}
			c.Checksum = append([]byte(nil), v...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return c, fmt.Errorf("wireformat: bad ManifestChange field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return c, nil
}

// EncodeManifestChangeSet serializes cs as a protobuf-wire-format
// ManifestChangeSet message.
func EncodeManifestChangeSet(cs ManifestChangeSet) []byte {
	var b []byte
	for _, c := range cs.Changes {
		b = protowire.AppendTag(b, fieldChangeSetChanges, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeManifestChange(c))
	}
	return b
}

// DecodeManifestChangeSet parses a protobuf-wire-format ManifestChangeSet
// message.
func DecodeManifestChangeSet(data []byte) (ManifestChangeSet, error) {
	var cs ManifestChangeSet
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return cs, fmt.Errorf("wireformat: bad ManifestChangeSet tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldChangeSetChanges:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return cs, fmt.Errorf("wireformat: bad ManifestChangeSet.changes: %w", protowire.ParseError(m))
			}
			c, err := decodeManifestChange(v)
			if err != nil {
				return cs, err
			}
			cs.Changes = append(cs.Changes, c)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return cs, fmt.Errorf("wireformat: bad ManifestChangeSet field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return cs, nil
}
