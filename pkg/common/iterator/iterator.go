// Package iterator defines the entry iterator shared by the tree cursor, the
// engine and the dump stream, plus small adapters that wrap it.
package iterator

import "github.com/KevoDB/treekv/pkg/block"

// Iterator walks entries in a fixed direction. Callers loop on Next, read
// Entry, check Err once Next returns false and always Close.
type Iterator interface {
	// Next advances to the next entry and reports whether there is one
	Next() bool

	// Entry returns the current entry
	Entry() *block.Entry

	// Err returns the error that stopped the walk, if any
	Err() error

	// Close releases the iterator; it is safe to call more than once
	Close() error
}

// SliceIterator iterates over an in-memory slice. The engine uses it for
// single entry results and tests use it as a source.
type SliceIterator struct {
	entries []*block.Entry
	pos     int
	closed  bool
}

// NewSliceIterator iterates entries in slice order.
func NewSliceIterator(entries []*block.Entry) *SliceIterator {
	return &SliceIterator{entries: entries, pos: -1}
}

func (s *SliceIterator) Next() bool {
	if s.closed || s.pos+1 >= len(s.entries) {
		s.pos = len(s.entries)
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Entry() *block.Entry {
	if s.closed || s.pos < 0 || s.pos >= len(s.entries) {
		return nil
	}
	return s.entries[s.pos]
}

func (s *SliceIterator) Err() error { return nil }

func (s *SliceIterator) Close() error {
	s.closed = true
	return nil
}

// Collect drains it and returns its entries. The iterator is closed.
func Collect(it Iterator) ([]*block.Entry, error) {
	defer it.Close()
	var out []*block.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
