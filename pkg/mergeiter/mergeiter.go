// Package mergeiter implements a bounded k-way merge over ordered key/value
// sources (memtables and SST tables), resolving duplicate keys in favor of
// the source with the lowest index and collapsing tombstones.
package mergeiter

import "container/heap"

// Source is any ordered cursor over key/value pairs, such as
// *sstable.TableIterator.
type Source interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() bool
}

type heapItem struct {
	src   Source
	index int // lower index wins ties: upper levels/newer memtables first
}

type sourceHeap []heapItem

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	ki, kj := string(h[i].src.Key()), string(h[j].src.Key())
	if ki != kj {
		return ki < kj
	}
	return h[i].index < h[j].index
}
func (h sourceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Iterator merges an ordered set of sources into a single ascending
// stream. When multiple sources hold the same key, the value from the
// source with the lowest index is kept and the others are skipped;
// tombstones (zero-length values) are surfaced like any other entry so
// the caller can decide whether to drop them (compaction drops tombstones
// once they reach the last level; a read merely treats them as "deleted").
type Iterator struct {
	h       sourceHeap
	key     []byte
	value   []byte
	started bool
}

// New builds a merge iterator over sources, in priority order (index 0
// is the highest-priority source, e.g. the active memtable).
func New(sources []Source) *Iterator {
	it := &Iterator{}
	for i, s := range sources {
		if s.Valid() {
			it.h = append(it.h, heapItem{src: s, index: i})
		}
	}
	heap.Init(&it.h)
	return it
}

// Next advances to the next distinct key across every source, skipping
// duplicate keys from lower-priority sources. Returns false once every
// source is exhausted.
func (it *Iterator) Next() bool {
	if !it.started {
		it.started = true
	} else if len(it.h) == 0 {
		return false
	}

	for len(it.h) > 0 {
		top := it.h[0]
		it.key = append(it.key[:0], top.src.Key()...)
		it.value = append(it.value[:0], top.src.Value()...)

		// Drain every source currently positioned on this key.
		for len(it.h) > 0 && string(it.h[0].src.Key()) == string(it.key) {
			item := heap.Pop(&it.h).(heapItem)
			if item.src.Next() {
				heap.Push(&it.h, item)
			}
		}
		return true
	}
	return false
}

// Key returns the current merged entry's key.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current merged entry's value (empty means tombstone).
func (it *Iterator) Value() []byte { return it.value }

// Tombstone reports whether the current entry is a logical deletion.
func (it *Iterator) Tombstone() bool { return len(it.value) == 0 }
