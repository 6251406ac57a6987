package btree

import (
	"context"
	"fmt"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/stats"
)

// RepairResult reports what FinishLoad changed on disk.
type RepairResult struct {
	Blocks   int // leaf blocks in the final chain
	Relinked int // blocks whose sibling links were rewritten
	Adopted  int // split blocks whose promotion record was lost
	Reset    int // blocks that never reached the disk
}

// leafRefs returns the level 0 references in key order, crossing level 0
// nodes through their next links.
func (t *Tree) leafRefs() []block.Ref {
	n := t.leftmost(0)
	var refs []block.Ref
	for n != nil {
		ne := n.load()
		for _, c := range ne.entries {
			refs = append(refs, c.ref)
		}
		n = ne.next
	}
	return refs
}

// leftmost returns the first node of the given level.
func (t *Tree) leftmost(level int) *node {
	r := t.root.Load()
	n := r.root
	for h := r.height; h > level; h-- {
		n = n.load().entries[0].node
	}
	return n
}

// FinishLoad ends replay. It walks the leaf chain against the level 0
// order, adopts blocks whose split finished on disk but never made it into
// the log, rewrites sibling links a partial split left behind and sets the
// rightmost block.
func (t *Tree) FinishLoad() (RepairResult, error) {
	t.loading = false
	var res RepairResult
	hwm := t.store.HighWater()
	refs := t.leafRefs()

	if refs[0] == block.MakeRef(0, 0) && hwm == block.MakeRef(0, 0) {
		// The first block never reached the disk
		if err := t.Init(); err != nil {
			return res, err
		}
		res.Reset++
	}

	chain := make([]block.Ref, 0, len(refs))
	var adopted []*block.Entry
	for i, ref := range refs {
		if ref >= t.store.Cursor() {
			return res, fmt.Errorf("%w: leaf %s lies beyond the last data file", ErrInconsistent, ref)
		}
		chain = append(chain, ref)
		want := block.NoRef
		if i+1 < len(refs) {
			want = refs[i+1]
		}
		data, err := t.store.ReadBlock(ref, t.blockSize)
		if err != nil {
			return res, err
		}
		if _, err := block.ReadHeader(data); err != nil {
			return res, fmt.Errorf("block %s: %w", ref, err)
		}
		next := block.NextLink(data)
		if next == want || !next.Valid() || next >= hwm {
			continue
		}
		if e, ok := t.orphan(ref, next, want); ok {
			chain = append(chain, next)
			adopted = append(adopted, e)
		}
	}

	for i, ref := range chain {
		prev, next := block.NoRef, block.NoRef
		if i > 0 {
			prev = chain[i-1]
		}
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		data, err := t.store.ReadBlock(ref, t.blockSize)
		if err != nil {
			return res, err
		}
		if block.PrevLink(data) == prev && block.NextLink(data) == next {
			continue
		}
		t.logger.Warn("Relinking block %s: prev %s -> %s, next %s -> %s",
			ref, block.PrevLink(data), prev, block.NextLink(data), next)
		block.SetPrevLink(data, prev)
		block.SetNextLink(data, next)
		if err := t.writeLocked(ref, data); err != nil {
			return res, err
		}
		res.Relinked++
		t.metrics.RecordRepair(context.Background(), "relink")
	}

	for _, e := range adopted {
		t.loading = true
		err := t.build(e)
		t.loading = false
		if err != nil {
			return res, err
		}
		if err := t.log.Append(e); err != nil {
			return res, err
		}
		t.counters.AddNode(stats.LeafLevel)
		res.Adopted++
		t.metrics.RecordRepair(context.Background(), "adopt")
		t.logger.Warn("Adopted split block %s starting at %q", e.Ref, e.Key)
	}

	t.rightmost.Store(int64(chain[len(chain)-1]))
	res.Blocks = len(chain)
	return res, nil
}

// orphan recognises the right half of a split whose promotion record was
// lost: the source block links to it and it links back to the source and
// on to the block the tree expects next.
func (t *Tree) orphan(src, ref, want block.Ref) (*block.Entry, bool) {
	data, err := t.store.ReadBlock(ref, t.blockSize)
	if err != nil {
		return nil, false
	}
	leaf, err := block.LoadMerged(data, ref, t.cmp, nil)
	if err != nil || leaf.Len() == 0 {
		return nil, false
	}
	if leaf.Prev != src || leaf.Next != want {
		return nil, false
	}
	key := append([]byte(nil), leaf.Entries[0].Key...)
	return block.NewRefEntry(key, ref, int32(leaf.Size), time.Now().UnixNano()), true
}

// Check verifies the whole structure: key order inside every node and
// block, sibling links at every level, child first keys against their
// branch entries, and that every leaf lies below the allocation cursor.
// It reads every leaf block and is meant for tests and offline checks.
func (t *Tree) Check() error {
	r := t.root.Load()
	for level := r.height; level >= 0; level-- {
		if err := t.checkLevel(level); err != nil {
			return err
		}
	}
	return t.checkLeaves()
}

func (t *Tree) checkLevel(level int) error {
	var prevNode *node
	var lastKey []byte
	for n := t.leftmost(level); n != nil; n = n.load().next {
		ne := n.load()
		if ne.prev != prevNode {
			return fmt.Errorf("%w: level %d sibling back link mismatch", ErrInconsistent, level)
		}
		if len(ne.entries) == 0 {
			return fmt.Errorf("%w: empty node at level %d", ErrInconsistent, level)
		}
		size := block.HeaderSize
		for i, c := range ne.entries {
			size += c.encodedSize()
			if c.key == nil {
				if prevNode != nil || i != 0 {
					return fmt.Errorf("%w: nil key inside level %d", ErrInconsistent, level)
				}
			} else {
				if lastKey != nil && t.cmp(lastKey, c.key) >= 0 {
					return fmt.Errorf("%w: level %d keys out of order at %q", ErrInconsistent, level, c.key)
				}
				lastKey = c.key
			}
			if level > 0 {
				if c.node == nil {
					return fmt.Errorf("%w: branch entry %q without child", ErrInconsistent, c.key)
				}
				if fk := c.node.firstKey(); c.key != nil && t.cmp(fk, c.key) != 0 {
					return fmt.Errorf("%w: child first key %q under entry %q", ErrInconsistent, fk, c.key)
				}
			}
		}
		if size != ne.size {
			return fmt.Errorf("%w: level %d node size %d, entries add up to %d", ErrInconsistent, level, ne.size, size)
		}
		prevNode = n
	}
	return nil
}

func (t *Tree) checkLeaves() error {
	owner := t.locks.NewOwner()
	cursor := t.store.Cursor()

	var bounds [][]byte
	var refs []block.Ref
	for n := t.leftmost(0); n != nil; n = n.load().next {
		for _, c := range n.load().entries {
			bounds = append(bounds, c.key)
			refs = append(refs, c.ref)
		}
	}

	prev := block.NoRef
	var lastKey []byte
	for i, ref := range refs {
		if !ref.Valid() || ref >= cursor {
			return fmt.Errorf("%w: leaf %s beyond allocation cursor %s", ErrInconsistent, ref, cursor)
		}
		leaf, err := t.readLeaf(owner, ref)
		if err != nil {
			return err
		}
		want := block.NoRef
		if i+1 < len(refs) {
			want = refs[i+1]
		}
		if leaf.Prev != prev || leaf.Next != want {
			return fmt.Errorf("%w: block %s links %s/%s, expected %s/%s",
				ErrInconsistent, ref, leaf.Prev, leaf.Next, prev, want)
		}
		for _, e := range leaf.Entries {
			if lastKey != nil && t.cmp(lastKey, e.Key) >= 0 {
				return fmt.Errorf("%w: block %s key %q out of order", ErrInconsistent, ref, e.Key)
			}
			if bounds[i] != nil && t.cmp(e.Key, bounds[i]) < 0 {
				return fmt.Errorf("%w: block %s key %q below its branch key %q", ErrInconsistent, ref, e.Key, bounds[i])
			}
			lastKey = e.Key
		}
		prev = ref
	}
	if len(refs) > 0 && t.Rightmost() != refs[len(refs)-1] {
		return fmt.Errorf("%w: rightmost %s, last leaf %s", ErrInconsistent, t.Rightmost(), refs[len(refs)-1])
	}
	return nil
}
