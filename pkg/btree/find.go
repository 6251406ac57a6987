package btree

import (
	"context"
	"fmt"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/keylock"
)

// position is a search result inside a merged leaf.
type position struct {
	leaf  *block.Leaf
	index int
	found bool
}

// locate finds the leaf that holds key, or would hold it. A reader may run
// into a split that completed after it loaded a snapshot; it then moves
// right to the sibling that took over the key range.
func (t *Tree) locate(owner keylock.Owner, key []byte) (position, error) {
	r := t.root.Load()
	n, level := r.root, r.height
	for {
		ne := n.load()
		idx := findIndex(ne, key, t.cmp)
		if idx == len(ne.entries)-1 && ne.next != nil && t.cmp(key, ne.next.firstKey()) >= 0 {
			t.metrics.RecordStaleRead(context.Background(), false)
			n = ne.next
			continue
		}
		if level > 0 {
			n = ne.entries[idx].node
			level--
			continue
		}
		return t.searchLeaves(owner, ne.entries[idx].ref, key)
	}
}

// searchLeaves searches the block at ref and follows next links while key
// sorts after everything in the current block.
func (t *Tree) searchLeaves(owner keylock.Owner, ref block.Ref, key []byte) (position, error) {
	for {
		leaf, err := t.readLeaf(owner, ref)
		if err != nil {
			return position{}, err
		}
		i, found := block.Search(leaf.Entries, key, t.cmp)
		if found || i != leaf.Len() || !leaf.Next.Valid() {
			return position{leaf: leaf, index: i, found: found}, nil
		}
		t.metrics.RecordStaleRead(context.Background(), true)
		ref = leaf.Next
	}
}

// readLeaf loads and merges a block while holding its keyed lock, so the
// read never sees a half written block.
func (t *Tree) readLeaf(owner keylock.Owner, ref block.Ref) (*block.Leaf, error) {
	t.locks.Lock(owner, ref)
	data, err := t.store.ReadBlock(ref, t.blockSize)
	t.locks.Unlock(owner, ref)
	if err != nil {
		return nil, err
	}
	return block.LoadMerged(data, ref, t.cmp, nil)
}

// Get returns the raw entry stored for key, tombstones included, or nil.
// LOB entries come back as references; see Resolve.
func (t *Tree) Get(key []byte) (*block.Entry, error) {
	pos, err := t.locate(t.locks.NewOwner(), key)
	if err != nil {
		return nil, err
	}
	if !pos.found {
		return nil, nil
	}
	return pos.leaf.Entries[pos.index], nil
}

// Resolve returns e with an out of line value loaded back in. Other entries
// are returned unchanged.
func (t *Tree) Resolve(e *block.Entry) (*block.Entry, error) {
	if e == nil || e.Kind != block.ValueRef || !e.IsLob(t.blockSize) {
		return e, nil
	}
	n := t.store.BlocksFor(int(e.Size))
	data, err := t.store.ReadBlock(e.Ref, n*t.blockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read LOB extent for %q: %w", e.Key, err)
	}
	full, _, err := block.DecodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode LOB extent %s: %w", e.Ref, err)
	}
	return full, nil
}
