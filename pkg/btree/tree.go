// Package btree implements the B+ tree index: branch levels held in memory
// as copy-on-write node snapshots over leaf blocks kept on disk.
//
// A single writer mutates the tree; readers run concurrently and lock free
// except for the per-block keyed lock taken while a raw block is read.
package btree

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/keylock"
	"github.com/KevoDB/treekv/pkg/stats"
	"github.com/KevoDB/treekv/pkg/storage"
	"github.com/KevoDB/treekv/pkg/tlog"
)

var (
	// ErrLobTooLarge is returned for a value beyond the configured LOB limit
	ErrLobTooLarge = errors.New("value exceeds maximum LOB size")
	// ErrNotLoading is returned by Load outside of a replay
	ErrNotLoading = errors.New("tree is not loading")
	// ErrInconsistent is returned by Check for a structural violation
	ErrInconsistent = errors.New("tree structure is inconsistent")
)

// Options configures a Tree.
type Options struct {
	Store      *storage.Store
	Log        *tlog.Log
	Locks      *keylock.Registry[block.Ref]
	Compare    block.Comparator
	MaxLobSize int
	Counters   *stats.Counters
	Collector  stats.Collector
	Metrics    TreeMetrics
	Logger     log.Logger
}

// NewLockRegistry returns a keyed lock registry for block references.
func NewLockRegistry() *keylock.Registry[block.Ref] {
	return keylock.New(64, func(r block.Ref) uint64 { return keylock.HashInt64(int64(r)) })
}

// Tree is the index. Insert, Load, Init and FinishLoad must be called by one
// writer at a time; every other method is safe for concurrent use.
type Tree struct {
	store     *storage.Store
	log       *tlog.Log
	locks     *keylock.Registry[block.Ref]
	cmp       block.Comparator
	blockSize int
	maxLob    int
	counters  *stats.Counters
	collector stats.Collector
	metrics   TreeMetrics
	logger    log.Logger

	root      atomic.Pointer[rootNode]
	rightmost atomic.Int64

	// Guarded by the writer.
	writer  keylock.Owner
	loading bool
	pending int
}

// New creates a tree holding only the catch-all root entry for block 0.
func New(opts Options) (*Tree, error) {
	if opts.Store == nil || opts.Log == nil {
		return nil, errors.New("tree requires a block store and a recovery log")
	}
	if opts.Compare == nil {
		return nil, errors.New("tree requires a comparator")
	}
	if opts.Locks == nil {
		opts.Locks = NewLockRegistry()
	}
	if opts.Counters == nil {
		opts.Counters = stats.NewCounters()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewNoopTreeMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger().WithField("component", "btree")
	}

	t := &Tree{
		store:     opts.Store,
		log:       opts.Log,
		locks:     opts.Locks,
		cmp:       opts.Compare,
		blockSize: opts.Store.BlockSize(),
		maxLob:    opts.MaxLobSize,
		counters:  opts.Counters,
		collector: opts.Collector,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	t.writer = t.locks.NewOwner()
	t.root.Store(initialRoot())
	t.rightmost.Store(int64(block.MakeRef(0, 0)))
	return t, nil
}

// Init writes the empty first block of a new tree.
func (t *Tree) Init() error {
	ref := t.store.Allocate(1)
	if ref != block.MakeRef(0, 0) {
		return fmt.Errorf("first block allocated at %s instead of 0:0", ref)
	}
	buf := make([]byte, t.blockSize)
	if err := block.EmptyLeaf(ref).Encode(buf); err != nil {
		return err
	}
	if err := t.store.WriteBlock(ref, buf); err != nil {
		return fmt.Errorf("failed to initialize first block: %w", err)
	}
	t.pending++
	return nil
}

// Height returns the number of in-memory levels above level 0.
func (t *Tree) Height() int { return t.root.Load().height }

// Rightmost returns the last leaf block known to the writer.
func (t *Tree) Rightmost() block.Ref { return block.Ref(t.rightmost.Load()) }

// BlockSize returns the leaf block size.
func (t *Tree) BlockSize() int { return t.blockSize }

// PendingBlocks returns the blocks written since the last ResetPending.
func (t *Tree) PendingBlocks() int { return t.pending }

// ResetPending clears the written block count after a sync.
func (t *Tree) ResetPending() { t.pending = 0 }

// Insert stores e in its leaf block. e.Size must hold the encoded size of
// the entry with its value inline; e itself is not modified.
func (t *Tree) Insert(e *block.Entry) error {
	if t.loading {
		return errors.New("insert during replay")
	}
	return t.build(e)
}

// BeginLoad switches the tree to replay mode: Load adds branch entries
// without touching leaf blocks.
func (t *Tree) BeginLoad() { t.loading = true }

// Load applies one recovery log record. It matches tlog.ReplayFunc.
func (t *Tree) Load(e *block.Entry) error {
	if !t.loading {
		return ErrNotLoading
	}
	if e.Kind != block.ValueRef || len(e.Key) == 0 {
		return fmt.Errorf("%w: record for %q is not a branch promotion", ErrInconsistent, e.Key)
	}
	return t.build(e)
}

// build descends from the root and publishes a new root when the old one
// splits.
func (t *Tree) build(e *block.Entry) error {
	r := t.root.Load()
	sibling, err := t.insert(r.root, e, r.height)
	if err != nil || sibling == nil {
		return err
	}

	left := &child{node: r.root, size: int32(r.root.load().size)}
	right := &child{key: sibling.firstKey(), node: sibling, size: int32(sibling.load().size)}
	ne := &nodeEntry{
		entries: []*child{left, right},
		size:    block.HeaderSize + left.encodedSize() + right.encodedSize(),
	}
	height := r.height + 1
	t.root.Store(&rootNode{root: newNode(ne), height: height})
	t.counters.SetHeight(height)
	t.counters.AddLevel(height)
	t.logger.Debug("Root split, tree height now %d", height)
	return nil
}

// insert adds e below n, which sits level levels above level 0. It returns
// the new right sibling of n when n split.
func (t *Tree) insert(n *node, e *block.Entry, level int) (*node, error) {
	ne := n.load()
	idx := findIndex(ne, e.Key, t.cmp)

	var promoted *child
	switch {
	case level > 0:
		sibling, err := t.insert(ne.entries[idx].node, e, level-1)
		if err != nil || sibling == nil {
			return nil, err
		}
		promoted = &child{key: sibling.firstKey(), node: sibling, size: int32(sibling.load().size)}
	case t.loading:
		promoted = &child{key: e.Key, ref: e.Ref, size: e.Size}
	default:
		c, err := t.updateBlock(ne.entries[idx].ref, e)
		if err != nil || c == nil {
			return nil, err
		}
		promoted = c
	}
	return t.adjust(n, idx+1, promoted, level), nil
}

// adjust publishes a copy of n with c inserted at pos and splits n when it
// outgrows a block.
func (t *Tree) adjust(n *node, pos int, c *child, level int) *node {
	ne := n.load()
	entries := make([]*child, len(ne.entries)+1)
	copy(entries, ne.entries[:pos])
	entries[pos] = c
	copy(entries[pos+1:], ne.entries[pos:])

	updated := &nodeEntry{
		entries: entries,
		size:    ne.size + c.encodedSize(),
		next:    ne.next,
		prev:    ne.prev,
	}
	n.snap.Store(updated)
	t.counters.AddBranchEntries(1)

	if updated.size >= t.blockSize && len(entries) > 1 {
		return t.splitNode(n, level)
	}
	return nil
}

// splitNode moves the tail of n into a new right sibling. The sibling is
// published before n links to it, so a reader holding either snapshot of n
// still reaches every entry.
func (t *Tree) splitNode(n *node, level int) *node {
	start := time.Now()
	ne := n.load()
	sizes := make([]int, len(ne.entries))
	for i, c := range ne.entries {
		sizes[i] = c.encodedSize()
	}
	cut, leftSize := block.SplitPoint(sizes, t.blockSize)

	sibling := newNode(&nodeEntry{
		entries: ne.entries[cut:],
		size:    block.HeaderSize + ne.size - leftSize,
		next:    ne.next,
		prev:    n,
	})
	n.snap.Store(&nodeEntry{
		entries: ne.entries[:cut:cut],
		size:    leftSize,
		next:    sibling,
		prev:    ne.prev,
	})
	if ne.next != nil {
		ne.next.snap.Store(ne.next.load().withPrev(sibling))
	}

	t.counters.AddNode(level)
	if t.collector != nil && !t.loading {
		t.collector.TrackSplit(false)
	}
	t.metrics.RecordSplit(context.Background(), level, time.Since(start))
	return sibling
}

// updateBlock stores e in the leaf block ref. It appends when the entry
// fits, rewrites the merged block when that fits, and splits otherwise. A
// split returns the branch entry for the new block.
func (t *Tree) updateBlock(ref block.Ref, e *block.Entry) (*child, error) {
	e, err := t.storeLob(e)
	if err != nil {
		return nil, err
	}

	data, err := t.store.ReadBlock(ref, t.blockSize)
	if err != nil {
		return nil, err
	}
	if _, err := block.ReadHeader(data); err != nil {
		return nil, fmt.Errorf("block %s: %w", ref, err)
	}

	if block.TotalSize(data)+e.EncodedSize() < t.blockSize {
		if err := block.Append(data, e); err != nil {
			return nil, err
		}
		return nil, t.writeLocked(ref, data)
	}

	leaf, err := block.LoadMerged(data, ref, t.cmp, e)
	if err != nil {
		return nil, err
	}
	if leaf.Size < t.blockSize {
		buf := make([]byte, t.blockSize)
		if err := leaf.Encode(buf); err != nil {
			return nil, err
		}
		return nil, t.writeLocked(ref, buf)
	}
	return t.splitLeaf(leaf)
}

// splitLeaf writes the two halves of an overfull leaf, fixes the back link
// of the following block and logs the promotion of the new block.
func (t *Tree) splitLeaf(leaf *block.Leaf) (*child, error) {
	start := time.Now()
	newRef := t.store.Allocate(1)
	left, right := leaf.Split(newRef, t.blockSize)
	if len(left.Entries) == 0 || len(right.Entries) == 0 {
		return nil, fmt.Errorf("%w: split of block %s left an empty half", ErrInconsistent, leaf.Ref)
	}

	locked := []block.Ref{leaf.Ref}
	if right.Next.Valid() {
		locked = []block.Ref{right.Next, leaf.Ref}
	}
	t.locks.LockAll(t.writer, locked...)
	err := t.writeSplit(left, right)
	t.locks.UnlockAll(t.writer, locked...)
	if err != nil {
		return nil, err
	}

	key := append([]byte(nil), right.Entries[0].Key...)
	rec := block.NewRefEntry(key, newRef, int32(right.Size), time.Now().UnixNano())
	if err := t.log.Append(rec); err != nil {
		return nil, err
	}

	t.pending += 2
	t.counters.AddLoads(1)
	t.counters.AddNode(stats.LeafLevel)
	if t.collector != nil {
		t.collector.TrackSplit(true)
	}
	t.metrics.RecordSplit(context.Background(), stats.LeafLevel, time.Since(start))
	return &child{key: key, ref: newRef, size: rec.Size}, nil
}

// writeSplit runs with the source block and its old successor locked.
func (t *Tree) writeSplit(left, right *block.Leaf) error {
	rbuf := make([]byte, t.blockSize)
	if err := right.Encode(rbuf); err != nil {
		return err
	}
	if err := t.store.WriteBlock(right.Ref, rbuf); err != nil {
		return err
	}
	lbuf := make([]byte, t.blockSize)
	if err := left.Encode(lbuf); err != nil {
		return err
	}
	if err := t.store.WriteBlock(left.Ref, lbuf); err != nil {
		return err
	}

	if !right.Next.Valid() {
		t.rightmost.Store(int64(right.Ref))
		return nil
	}
	next, err := t.store.ReadBlock(right.Next, t.blockSize)
	if err != nil {
		return err
	}
	block.SetPrevLink(next, right.Ref)
	if err := t.store.WriteBlock(right.Next, next); err != nil {
		return err
	}
	t.pending++
	t.counters.AddLoads(1)
	return nil
}

// writeLocked rewrites one block while holding its keyed lock.
func (t *Tree) writeLocked(ref block.Ref, data []byte) error {
	t.locks.Lock(t.writer, ref)
	defer t.locks.Unlock(t.writer, ref)
	if err := t.store.WriteBlock(ref, data); err != nil {
		return err
	}
	t.pending++
	return nil
}

// storeLob moves a large entry out of line and returns the reference entry
// that takes its place in the leaf.
func (t *Tree) storeLob(e *block.Entry) (*block.Entry, error) {
	if !e.IsLob(t.blockSize) || e.Kind != block.ValueInline {
		return e, nil
	}
	if int(e.Size) > t.maxLob {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrLobTooLarge, e.Size, t.maxLob)
	}

	n := t.store.BlocksFor(int(e.Size))
	ref := t.store.Allocate(n)
	buf := make([]byte, n*t.blockSize)
	if _, err := e.Encode(buf); err != nil {
		return nil, err
	}
	if err := t.store.WriteBlock(ref, buf); err != nil {
		return nil, fmt.Errorf("failed to write LOB extent: %w", err)
	}

	t.pending += n
	if t.collector != nil {
		t.collector.TrackLob()
	}
	t.metrics.RecordLob(context.Background(), int64(e.Size), n)

	lob := *e
	lob.Value = nil
	lob.Kind = block.ValueRef
	lob.Ref = ref
	return &lob, nil
}
