package block

import "fmt"

// Ref addresses a block on disk: file number in the high 32 bits, block
// number within that file in the low 32 bits.
type Ref int64

// NoRef marks an absent link or reference.
const NoRef Ref = -1

// MakeRef packs a file number and an in-file block number.
func MakeRef(file, blk uint32) Ref {
	return Ref(int64(file)<<32 | int64(blk))
}

// File returns the data file number.
func (r Ref) File() uint32 { return uint32(uint64(r) >> 32) }

// Block returns the block number within the data file.
func (r Ref) Block() uint32 { return uint32(uint64(r)) }

// Valid reports whether r points at a block.
func (r Ref) Valid() bool { return r >= 0 }

func (r Ref) String() string {
	if !r.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", r.File(), r.Block())
}

// Comparator orders keys. It returns a negative number, zero or a positive
// number when a sorts before, equal to or after b.
type Comparator func(a, b []byte) int
