package sstable

import "fmt"

// TableIterator walks a Table's entries in ascending key order, crossing
// block boundaries transparently.
type TableIterator struct {
	table   *Table
	blockNo int
	bi      *blockIterator
}

// NewIterator returns a fresh iterator positioned before the first entry.
func (t *Table) NewIterator() (*TableIterator, error) {
	return &TableIterator{table: t, blockNo: -1}, nil
}

func (it *TableIterator) loadBlock(i int) error {
	raw, err := it.table.blockAt(i)
	if err != nil {
		return err
	}
	bi, err := newBlockIterator(raw, it.table.index.Offsets[i].Key)
	if err != nil {
		return fmt.Errorf("sstable: %s: block %d: %w", it.table.path, i, err)
	}
	it.blockNo = i
	it.bi = bi
	return nil
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *TableIterator) SeekToFirst() bool {
	if err := it.loadBlock(0); err != nil {
		return false
	}
	return it.bi.seekToFirst()
}

// Seek positions the iterator at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) bool {
	blockIdx := it.table.blockForKey(target)
	if it.bi == nil || it.blockNo != blockIdx {
		if err := it.loadBlock(blockIdx); err != nil {
			return false
		}
	}
	if it.bi.seek(target) {
		return true
	}
	// target fell after every entry in this block; try the next one.
	return it.advanceBlock()
}

func (it *TableIterator) advanceBlock() bool {
	next := it.blockNo + 1
	if next >= len(it.table.index.Offsets) {
		return false
	}
	if err := it.loadBlock(next); err != nil {
		return false
	}
	return it.bi.seekToFirst()
}

// Next advances to the following entry, crossing into the next block if
// the current one is exhausted. Returns false once the table is
// exhausted.
func (it *TableIterator) Next() bool {
	if it.bi == nil {
		return it.SeekToFirst()
	}
	if it.bi.next() {
		return true
	}
	return it.advanceBlock()
}

// Valid reports whether the iterator is positioned on an entry.
func (it *TableIterator) Valid() bool {
	return it.bi != nil && it.bi.idx >= 0 && it.bi.idx < it.bi.numEntries()
}

// Key returns the current entry's key.
func (it *TableIterator) Key() []byte { return it.bi.key }

// Value returns the current entry's value.
func (it *TableIterator) Value() []byte { return it.bi.value }
