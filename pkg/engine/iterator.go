package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/KevoDB/treekv/pkg/btree"
	"github.com/KevoDB/treekv/pkg/common/iterator"
	"github.com/KevoDB/treekv/pkg/common/iterator/bounded"
	"github.com/KevoDB/treekv/pkg/common/iterator/filtered"
	"github.com/KevoDB/treekv/pkg/stats"
)

// IterOptions selects a range. A nil Start begins at the first key (or the
// last one going backward); a nil End runs to the end. End is exclusive.
type IterOptions struct {
	Start   []byte
	End     []byte
	Reverse bool
}

// Iterator walks live entries in key order. It takes no lock and sees
// concurrent writes block by block. It must be closed.
type Iterator struct {
	it      iterator.Iterator
	tree    *btree.Tree
	metrics iterator.IteratorMetrics
	opts    IterOptions
	start   time.Time
	cur     *Entry
	err     error
	count   int64
	closed  bool
}

// Iterator opens an iterator over the range described by opts.
func (e *Engine) Iterator(opts IterOptions) (*Iterator, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	for _, k := range [][]byte{opts.Start, opts.End} {
		if k != nil && len(k) == 0 {
			return nil, fmt.Errorf("%w: empty bound", ErrInvalidRange)
		}
	}
	if !bounded.ValidRange(opts.Start, opts.End, opts.Reverse, e.cmp) {
		return nil, fmt.Errorf("%w: start %q lies beyond end %q", ErrInvalidRange, opts.Start, opts.End)
	}

	op := stats.OpScan
	if opts.Start != nil || opts.End != nil {
		op = stats.OpScanRange
	}
	start := time.Now()
	cursor, err := e.tree.NewCursor(opts.Start, opts.Reverse)
	e.track(stats.OpSeek, start, 0, err)
	if err != nil {
		return nil, err
	}
	e.collector.TrackOperation(op)
	e.iterMetrics.RecordSeek(context.Background(), time.Since(start), opts.Reverse)

	var it iterator.Iterator = filtered.NewLiveIterator(cursor)
	if opts.End != nil {
		it = bounded.NewBoundedIterator(it, opts.End, opts.Reverse, e.cmp)
	}
	return &Iterator{
		it:      it,
		tree:    e.tree,
		metrics: e.iterMetrics,
		opts:    opts,
		start:   start,
	}, nil
}

// All iterates every live entry in ascending order.
func (e *Engine) All() (*Iterator, error) {
	return e.Iterator(IterOptions{})
}

// AllReverse iterates every live entry in descending order.
func (e *Engine) AllReverse() (*Iterator, error) {
	return e.Iterator(IterOptions{Reverse: true})
}

// From iterates upward from the first key >= start.
func (e *Engine) From(start []byte) (*Iterator, error) {
	return e.Iterator(IterOptions{Start: start})
}

// FromReverse iterates downward from the last key <= start.
func (e *Engine) FromReverse(start []byte) (*Iterator, error) {
	return e.Iterator(IterOptions{Start: start, Reverse: true})
}

// Range iterates [start, end) in ascending order.
func (e *Engine) Range(start, end []byte) (*Iterator, error) {
	return e.Iterator(IterOptions{Start: start, End: end})
}

// RangeReverse iterates (end, start] in descending order.
func (e *Engine) RangeReverse(start, end []byte) (*Iterator, error) {
	return e.Iterator(IterOptions{Start: start, End: end, Reverse: true})
}

// Next advances to the next live entry, loading LOB values as it goes.
func (i *Iterator) Next() bool {
	i.cur = nil
	if i.closed || i.err != nil {
		return false
	}
	if !i.it.Next() {
		i.err = i.it.Err()
		return false
	}

	raw := i.it.Entry()
	if raw.IsLob(i.tree.BlockSize()) {
		start := time.Now()
		full, err := i.tree.Resolve(raw)
		if err != nil {
			i.err = err
			return false
		}
		i.metrics.RecordLobResolve(context.Background(), time.Since(start), int64(full.Size))
		raw = full
	}
	i.cur = newEntry(raw)
	i.count++
	return true
}

// Entry returns the current entry, or nil when there is none.
func (i *Iterator) Entry() *Entry { return i.cur }

// Err returns the error that stopped the iterator, if any.
func (i *Iterator) Err() error { return i.err }

// Close releases the iterator. It is safe to call more than once.
func (i *Iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.cur = nil
	i.metrics.RecordRangeScan(context.Background(), time.Since(i.start), i.count,
		i.opts.Reverse, i.opts.Start != nil || i.opts.End != nil)
	return i.it.Close()
}
