package btree

import (
	"sort"
	"sync/atomic"

	"github.com/KevoDB/treekv/pkg/block"
)

// child is one branch entry. At level 0 it points at a leaf block, above it
// at a child node. Children are immutable once published.
type child struct {
	key  []byte // nil only for the leftmost entry of a level
	ref  block.Ref
	node *node
	size int32
}

// encodedSize is what the entry would take in a block, which is how node
// sizes are accounted for split decisions.
func (c *child) encodedSize() int {
	return block.EntryMetaSize + len(c.key) + block.RefValueSize
}

// nodeEntry is an immutable node snapshot.
type nodeEntry struct {
	entries []*child
	size    int
	next    *node
	prev    *node
}

// node owns the current snapshot of one in-memory branch node. Writers
// replace the snapshot as a whole; readers load it once per visit.
type node struct {
	snap atomic.Pointer[nodeEntry]
}

func newNode(ne *nodeEntry) *node {
	n := &node{}
	n.snap.Store(ne)
	return n
}

func (n *node) load() *nodeEntry { return n.snap.Load() }

func (n *node) firstKey() []byte { return n.load().entries[0].key }

// rootNode pairs the root with the number of levels above level 0. It is
// replaced as a whole when the root splits.
type rootNode struct {
	root   *node
	height int
}

// initialRoot is a single level 0 node with the catch-all entry for block 0.
func initialRoot() *rootNode {
	first := &child{ref: block.MakeRef(0, 0), size: -1}
	ne := &nodeEntry{
		entries: []*child{first},
		size:    block.HeaderSize + first.encodedSize(),
	}
	return &rootNode{root: newNode(ne)}
}

// findIndex returns the greatest entry whose key is <= key, or 0. A nil
// first key is skipped by the search and acts as minus infinity.
func findIndex(ne *nodeEntry, key []byte, cmp block.Comparator) int {
	lo := 0
	if ne.entries[0].key == nil {
		lo = 1
	}
	rest := ne.entries[lo:]
	i := sort.Search(len(rest), func(i int) bool {
		return cmp(rest[i].key, key) > 0
	})
	idx := lo + i - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// withPrev returns a copy of ne linked back to prev.
func (ne *nodeEntry) withPrev(prev *node) *nodeEntry {
	c := *ne
	c.prev = prev
	return &c
}
