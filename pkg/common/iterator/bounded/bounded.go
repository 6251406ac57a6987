package bounded

import (
	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and stops it at an exclusive end key.
// Going forward it stops at the first key >= end, going backward at the
// first key <= end.
type BoundedIterator struct {
	iterator.Iterator
	end     []byte
	reverse bool
	cmp     block.Comparator
	done    bool
}

// NewBoundedIterator creates a new bounded iterator. A nil end leaves the
// iterator unbounded.
func NewBoundedIterator(iter iterator.Iterator, end []byte, reverse bool, cmp block.Comparator) *BoundedIterator {
	bi := &BoundedIterator{
		Iterator: iter,
		reverse:  reverse,
		cmp:      cmp,
	}

	// Make a copy of the bound to avoid external modification
	if end != nil {
		bi.end = make([]byte, len(end))
		copy(bi.end, end)
	}

	return bi
}

// Next advances to the next entry within the bound
func (b *BoundedIterator) Next() bool {
	if b.done {
		return false
	}
	if !b.Iterator.Next() {
		b.done = true
		return false
	}
	if !b.inBounds(b.Iterator.Entry().Key) {
		b.done = true
		return false
	}
	return true
}

// Entry returns the current entry while within the bound
func (b *BoundedIterator) Entry() *block.Entry {
	if b.done {
		return nil
	}
	return b.Iterator.Entry()
}

// inBounds checks key against the end bound for the iteration direction
func (b *BoundedIterator) inBounds(key []byte) bool {
	if b.end == nil {
		return true
	}
	c := b.cmp(key, b.end)
	if b.reverse {
		return c > 0
	}
	return c < 0
}

// ValidRange reports whether start and end are ordered for the direction:
// start <= end going forward, start >= end going backward. A missing key
// never makes a range invalid.
func ValidRange(start, end []byte, reverse bool, cmp block.Comparator) bool {
	if start == nil || end == nil {
		return true
	}
	c := cmp(start, end)
	if reverse {
		return c >= 0
	}
	return c <= 0
}
