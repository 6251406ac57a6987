package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// HeaderSize is the leaf block header: total_size(4) + sorted_len(4) +
// next(8) + prev(8). It is also the size of an empty block.
const HeaderSize = 4 + 4 + 8 + 8

const (
	offTotal  = 0
	offSorted = 4
	offNext   = 8
	offPrev   = 16
)

// ErrCorruptBlock indicates a block header that cannot describe valid content
var ErrCorruptBlock = errors.New("corrupt block")

// Header is the fixed prefix of every leaf block.
type Header struct {
	Total  int
	Sorted int
	Next   Ref
	Prev   Ref
}

// ReadHeader decodes the header at the start of data.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrCorruptBlock, len(data))
	}
	h := Header{
		Total:  int(binary.BigEndian.Uint32(data[offTotal:])),
		Sorted: int(binary.BigEndian.Uint32(data[offSorted:])),
		Next:   Ref(binary.BigEndian.Uint64(data[offNext:])),
		Prev:   Ref(binary.BigEndian.Uint64(data[offPrev:])),
	}
	if h.Sorted < HeaderSize || h.Sorted > h.Total || h.Total > len(data) {
		return Header{}, fmt.Errorf("%w: total=%d sorted=%d len=%d", ErrCorruptBlock, h.Total, h.Sorted, len(data))
	}
	return h, nil
}

// NextLink returns the next sibling stored in a raw block.
func NextLink(data []byte) Ref {
	return Ref(binary.BigEndian.Uint64(data[offNext:]))
}

// PrevLink returns the previous sibling stored in a raw block.
func PrevLink(data []byte) Ref {
	return Ref(binary.BigEndian.Uint64(data[offPrev:]))
}

// SetPrevLink rewrites the previous sibling of a raw block in place.
func SetPrevLink(data []byte, ref Ref) {
	binary.BigEndian.PutUint64(data[offPrev:], uint64(ref))
}

// SetNextLink rewrites the next sibling of a raw block in place.
func SetNextLink(data []byte, ref Ref) {
	binary.BigEndian.PutUint64(data[offNext:], uint64(ref))
}

// TotalSize returns the used size recorded in a raw block.
func TotalSize(data []byte) int {
	return int(binary.BigEndian.Uint32(data[offTotal:]))
}

// Append writes e into the unsorted region of a raw block and bumps its
// total size. The caller checks that the entry fits.
func Append(data []byte, e *Entry) error {
	total := TotalSize(data)
	n, err := e.Encode(data[total:])
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(data[offTotal:], uint32(total+n))
	return nil
}

// Leaf is the decoded, merged content of one leaf block.
type Leaf struct {
	Ref     Ref
	Entries []*Entry
	Size    int
	Next    Ref
	Prev    Ref
}

// NewLeaf builds a leaf and computes its encoded size.
func NewLeaf(ref Ref, entries []*Entry, next, prev Ref) *Leaf {
	size := HeaderSize
	for _, e := range entries {
		size += e.EncodedSize()
	}
	return &Leaf{Ref: ref, Entries: entries, Size: size, Next: next, Prev: prev}
}

// EmptyLeaf is the content of a freshly initialised block.
func EmptyLeaf(ref Ref) *Leaf {
	return &Leaf{Ref: ref, Size: HeaderSize, Next: NoRef, Prev: NoRef}
}

// Len returns the number of entries.
func (l *Leaf) Len() int { return len(l.Entries) }

// Encode writes the leaf as a fully sorted block into dst, which must be at
// least l.Size bytes. Bytes past l.Size are left untouched.
func (l *Leaf) Encode(dst []byte) error {
	if len(dst) < l.Size {
		return fmt.Errorf("%w: leaf of %d bytes into %d", ErrBufferTooSmall, l.Size, len(dst))
	}
	binary.BigEndian.PutUint32(dst[offTotal:], uint32(l.Size))
	binary.BigEndian.PutUint32(dst[offSorted:], uint32(l.Size))
	binary.BigEndian.PutUint64(dst[offNext:], uint64(l.Next))
	binary.BigEndian.PutUint64(dst[offPrev:], uint64(l.Prev))
	off := HeaderSize
	for _, e := range l.Entries {
		n, err := e.Encode(dst[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// Load decodes a raw block into its sorted and unsorted regions.
func Load(data []byte) (Header, []*Entry, []*Entry, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return h, nil, nil, err
	}
	sorted, err := DecodeAll(data[HeaderSize:h.Sorted])
	if err != nil {
		return h, nil, nil, fmt.Errorf("failed to decode sorted region: %w", err)
	}
	unsorted, err := DecodeAll(data[h.Sorted:h.Total])
	if err != nil {
		return h, nil, nil, fmt.Errorf("failed to decode unsorted region: %w", err)
	}
	return h, sorted, unsorted, nil
}

// LoadMerged decodes a raw block and merges its regions into one ordered
// view. extra, when not nil, is merged last as the newest entry.
func LoadMerged(data []byte, ref Ref, cmp Comparator, extra *Entry) (*Leaf, error) {
	h, sorted, unsorted, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", ref, err)
	}
	if extra != nil {
		unsorted = append(unsorted, extra)
	}
	return NewLeaf(ref, Merge(sorted, unsorted, cmp), h.Next, h.Prev), nil
}

// Merge folds unsorted entries into the sorted array in arrival order. An
// unsorted entry replaces a sorted one with the same key; otherwise it is
// inserted at its position. The sorted slice is not modified.
func Merge(sorted, unsorted []*Entry, cmp Comparator) []*Entry {
	if len(unsorted) == 0 {
		return sorted
	}
	out := make([]*Entry, len(sorted), len(sorted)+len(unsorted))
	copy(out, sorted)
	for _, e := range unsorted {
		i, found := Search(out, e.Key, cmp)
		if found {
			out[i] = e
			continue
		}
		out = append(out, nil)
		copy(out[i+1:], out[i:])
		out[i] = e
	}
	return out
}

// Search binary searches entries for key. It returns the index of the match,
// or the insertion point and false.
func Search(entries []*Entry, key []byte, cmp Comparator) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return cmp(entries[i].Key, key) >= 0
	})
	return i, i < len(entries) && cmp(entries[i].Key, key) == 0
}

// SplitPoint picks the cut for a node whose entries have the given encoded
// sizes. The left side accumulates from HeaderSize until it reaches half of
// blockSize, keeping at least one entry on the right. The cut then moves
// right while the right side alone would still not fit a block.
func SplitPoint(sizes []int, blockSize int) (cut, leftSize int) {
	total := HeaderSize
	for _, s := range sizes {
		total += s
	}
	last := len(sizes) - 1
	leftSize = HeaderSize
	for leftSize < blockSize/2 && cut < last {
		leftSize += sizes[cut]
		cut++
	}
	for HeaderSize+total-leftSize >= blockSize && cut < last {
		leftSize += sizes[cut]
		cut++
	}
	return cut, leftSize
}

// Split cuts the leaf in two. The left half keeps the leaf's ref and the
// right half gets newRef. Links become prev <-> left <-> right <-> next.
func (l *Leaf) Split(newRef Ref, blockSize int) (left, right *Leaf) {
	sizes := make([]int, len(l.Entries))
	for i, e := range l.Entries {
		sizes[i] = e.EncodedSize()
	}
	cut, leftSize := SplitPoint(sizes, blockSize)

	left = &Leaf{
		Ref:     l.Ref,
		Entries: l.Entries[:cut:cut],
		Size:    leftSize,
		Next:    newRef,
		Prev:    l.Prev,
	}
	right = &Leaf{
		Ref:     newRef,
		Entries: l.Entries[cut:],
		Size:    HeaderSize + l.Size - leftSize,
		Next:    l.Next,
		Prev:    l.Ref,
	}
	return left, right
}
