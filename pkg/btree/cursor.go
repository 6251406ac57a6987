package btree

import (
	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/iterator"
	"github.com/KevoDB/treekv/pkg/keylock"
)

// Cursor walks merged leaf content in key order, either direction, crossing
// blocks through their sibling links. It returns raw entries: tombstones
// are included and LOB values are left as references.
//
// A cursor holds no lock between calls and sees each block as it was when
// the cursor entered it.
type Cursor struct {
	t       *Tree
	owner   keylock.Owner
	reverse bool
	leaf    *block.Leaf
	pos     int
	cur     *block.Entry
	err     error
	closed  bool
}

// NewCursor positions a cursor. Without a start key it begins at the first
// block going forward or at the last block going backward. With one it
// begins at the first entry >= start (forward) or <= start (reverse).
func (t *Tree) NewCursor(start []byte, reverse bool) (*Cursor, error) {
	c := &Cursor{t: t, owner: t.locks.NewOwner(), reverse: reverse}

	if start == nil {
		var leaf *block.Leaf
		var err error
		if reverse {
			leaf, err = t.lastLeaf(c.owner)
		} else {
			leaf, err = t.readLeaf(c.owner, block.MakeRef(0, 0))
		}
		if err != nil {
			return nil, err
		}
		c.leaf = leaf
		if reverse {
			c.pos = leaf.Len() - 1
		}
		return c, nil
	}

	p, err := t.locate(c.owner, start)
	if err != nil {
		return nil, err
	}
	c.leaf = p.leaf
	c.pos = p.index
	if reverse && !p.found {
		c.pos = p.index - 1
	}
	return c, nil
}

// lastLeaf starts at the rightmost block and follows next links in case
// splits moved the end further right.
func (t *Tree) lastLeaf(owner keylock.Owner) (*block.Leaf, error) {
	ref := t.Rightmost()
	for {
		leaf, err := t.readLeaf(owner, ref)
		if err != nil {
			return nil, err
		}
		if !leaf.Next.Valid() {
			return leaf, nil
		}
		ref = leaf.Next
	}
}

// Next advances to the next entry and reports whether there is one.
func (c *Cursor) Next() bool {
	c.cur = nil
	for !c.closed {
		if c.reverse && c.pos < 0 {
			if !c.stepBack() {
				break
			}
			continue
		}
		if !c.reverse && c.pos >= c.leaf.Len() {
			if !c.stepForward() {
				break
			}
			continue
		}
		c.cur = c.leaf.Entries[c.pos]
		if c.reverse {
			c.pos--
		} else {
			c.pos++
		}
		return true
	}
	return false
}

func (c *Cursor) stepForward() bool {
	if !c.leaf.Next.Valid() {
		c.Close()
		return false
	}
	leaf, err := c.t.readLeaf(c.owner, c.leaf.Next)
	if err != nil {
		c.fail(err)
		return false
	}
	c.leaf = leaf
	c.pos = 0
	return true
}

// stepBack reads the current block's prev link afresh, since a split may
// have put a new block between the cached link and this one.
func (c *Cursor) stepBack() bool {
	t := c.t
	ref := c.leaf.Ref
	t.locks.Lock(c.owner, ref)
	data, err := t.store.ReadBlock(ref, t.blockSize)
	if err != nil {
		t.locks.Unlock(c.owner, ref)
		c.fail(err)
		return false
	}
	prev := block.PrevLink(data)
	if !prev.Valid() {
		t.locks.Unlock(c.owner, ref)
		c.Close()
		return false
	}
	pdata, err := t.store.ReadBlock(prev, t.blockSize)
	t.locks.Unlock(c.owner, ref)
	if err != nil {
		c.fail(err)
		return false
	}
	leaf, err := block.LoadMerged(pdata, prev, t.cmp, nil)
	if err != nil {
		c.fail(err)
		return false
	}
	c.leaf = leaf
	c.pos = leaf.Len() - 1
	return true
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.Close()
}

// Entry returns the current entry, or nil before the first Next and after
// the end.
func (c *Cursor) Entry() *block.Entry { return c.cur }

// Reverse reports the cursor direction.
func (c *Cursor) Reverse() bool { return c.reverse }

// Err returns the error that ended the walk, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.closed = true
	c.leaf = nil
	return nil
}

var _ iterator.Iterator = (*Cursor)(nil)
