package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// EntryMetaSize is the fixed part of an encoded entry:
	// total_len(4) + timestamp(8) + size(4) + deleted(1) + key_len(4)
	EntryMetaSize = 4 + 8 + 4 + 1 + 4

	// RefValueSize is the encoded size of a reference value: tag(1) + ref(8)
	RefValueSize = 1 + 8

	tagInline byte = 0
	tagRef    byte = 1
)

var (
	// ErrCorruptEntry indicates an encoded entry with impossible lengths
	ErrCorruptEntry = errors.New("corrupt entry")
	// ErrBufferTooSmall indicates the destination cannot hold the encoding
	ErrBufferTooSmall = errors.New("buffer too small for entry")
)

// ValueKind tells how an entry's value is held.
type ValueKind uint8

const (
	// ValueNone means no value: a tombstone, or the bare key of a search probe
	ValueNone ValueKind = iota
	// ValueInline means the bytes are stored in the entry itself
	ValueInline
	// ValueRef means the entry points at a block (child leaf or LOB extent)
	ValueRef
)

// Entry is a key with an optional value as stored in leaf blocks and in the
// recovery log.
type Entry struct {
	Key       []byte
	Value     []byte
	Ref       Ref
	Kind      ValueKind
	Size      int32
	Timestamp int64
	Deleted   bool
}

// NewRefEntry builds an entry whose value is a block reference. Branch
// promotion records use it with size set to the promoted block size.
func NewRefEntry(key []byte, ref Ref, size int32, ts int64) *Entry {
	return &Entry{Key: key, Ref: ref, Kind: ValueRef, Size: size, Timestamp: ts}
}

// EncodedSize returns the number of bytes Encode writes.
func (e *Entry) EncodedSize() int {
	n := EntryMetaSize + len(e.Key)
	switch e.Kind {
	case ValueInline:
		n += 1 + len(e.Value)
	case ValueRef:
		n += RefValueSize
	}
	return n
}

// IsLob reports whether the entry's declared size puts it out of line for
// the given block size.
func (e *Entry) IsLob(blockSize int) bool {
	return int(e.Size) >= blockSize/2
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Key != nil {
		c.Key = append([]byte(nil), e.Key...)
	}
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return &c
}

// Encode writes the entry at the start of dst and returns the bytes written.
func (e *Entry) Encode(dst []byte) (int, error) {
	n := e.EncodedSize()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, len(dst))
	}

	binary.BigEndian.PutUint32(dst[0:], uint32(n))
	binary.BigEndian.PutUint64(dst[4:], uint64(e.Timestamp))
	binary.BigEndian.PutUint32(dst[12:], uint32(e.Size))
	if e.Deleted {
		dst[16] = 1
	} else {
		dst[16] = 0
	}
	binary.BigEndian.PutUint32(dst[17:], uint32(len(e.Key)))
	off := EntryMetaSize + copy(dst[EntryMetaSize:], e.Key)

	switch e.Kind {
	case ValueInline:
		dst[off] = tagInline
		copy(dst[off+1:], e.Value)
	case ValueRef:
		dst[off] = tagRef
		binary.BigEndian.PutUint64(dst[off+1:], uint64(e.Ref))
	}
	return n, nil
}

// Marshal encodes the entry into a new slice.
func (e *Entry) Marshal() []byte {
	buf := make([]byte, e.EncodedSize())
	e.Encode(buf)
	return buf
}

// DecodeEntry reads one entry from the start of src and returns it with the
// number of bytes consumed. An empty src or a zero length prefix (the zero
// filled tail of a block) yields io.EOF.
func DecodeEntry(src []byte) (*Entry, int, error) {
	if len(src) < 4 {
		return nil, 0, io.EOF
	}
	total := int(binary.BigEndian.Uint32(src))
	if total == 0 {
		return nil, 0, io.EOF
	}
	if total < EntryMetaSize || total > len(src) {
		return nil, 0, fmt.Errorf("%w: length %d with %d bytes remaining", ErrCorruptEntry, total, len(src))
	}

	e := &Entry{
		Timestamp: int64(binary.BigEndian.Uint64(src[4:])),
		Size:      int32(binary.BigEndian.Uint32(src[12:])),
		Deleted:   src[16] != 0,
		Ref:       NoRef,
	}
	keyLen := int(binary.BigEndian.Uint32(src[17:]))
	if keyLen > total-EntryMetaSize {
		return nil, 0, fmt.Errorf("%w: key length %d exceeds entry length %d", ErrCorruptEntry, keyLen, total)
	}
	off := EntryMetaSize
	if keyLen > 0 {
		e.Key = append([]byte(nil), src[off:off+keyLen]...)
		off += keyLen
	}

	valLen := total - off
	if valLen > 0 {
		tag := src[off]
		off++
		if tag == tagRef {
			if valLen != RefValueSize {
				return nil, 0, fmt.Errorf("%w: reference value of %d bytes", ErrCorruptEntry, valLen)
			}
			e.Kind = ValueRef
			e.Ref = Ref(binary.BigEndian.Uint64(src[off:]))
		} else {
			e.Kind = ValueInline
			e.Value = append([]byte(nil), src[off:total]...)
		}
	}
	return e, total, nil
}

// DecodeAll decodes consecutive entries until src is exhausted.
func DecodeAll(src []byte) ([]*Entry, error) {
	var entries []*Entry
	for len(src) > 0 {
		e, n, err := DecodeEntry(src)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		src = src[n:]
	}
	return entries, nil
}
