// Package filtered provides iterators that skip entries based on different criteria
package filtered

import (
	"bytes"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/iterator"
)

// FilterFunc reports whether an entry should be returned
type FilterFunc func(e *block.Entry) bool

// FilteredIterator wraps an iterator and applies a filter
type FilteredIterator struct {
	iter   iterator.Iterator
	filter FilterFunc
}

// NewFilteredIterator creates a new iterator with a filter
func NewFilteredIterator(iter iterator.Iterator, filter FilterFunc) *FilteredIterator {
	return &FilteredIterator{
		iter:   iter,
		filter: filter,
	}
}

// Next advances to the next entry that passes the filter
func (fi *FilteredIterator) Next() bool {
	for fi.iter.Next() {
		if fi.filter(fi.iter.Entry()) {
			return true
		}
	}
	return false
}

// Entry returns the current entry
func (fi *FilteredIterator) Entry() *block.Entry {
	return fi.iter.Entry()
}

// Err returns the wrapped iterator's error
func (fi *FilteredIterator) Err() error {
	return fi.iter.Err()
}

// Close closes the wrapped iterator
func (fi *FilteredIterator) Close() error {
	return fi.iter.Close()
}

// Live keeps entries that are not deletion markers
func Live(e *block.Entry) bool {
	return !e.Deleted
}

// PrefixFilterFunc creates a filter function for keys with a specific prefix
func PrefixFilterFunc(prefix []byte) FilterFunc {
	return func(e *block.Entry) bool {
		return bytes.HasPrefix(e.Key, prefix)
	}
}

// NewLiveIterator returns an iterator that skips tombstones
func NewLiveIterator(iter iterator.Iterator) *FilteredIterator {
	return NewFilteredIterator(iter, Live)
}

// NewPrefixIterator returns an iterator that filters keys by prefix
func NewPrefixIterator(iter iterator.Iterator, prefix []byte) *FilteredIterator {
	return NewFilteredIterator(iter, PrefixFilterFunc(prefix))
}
