package bitset

import (
	"fmt"
	"iter"
	"math/bits"
)

// Bitset is a fixed-length set of bit indices.
//
// The length is set at construction and never changes. It is used to track
// slot occupancy of hardware tables.
type Bitset struct {
	words []uint64
	size  uint32
}

// New creates a new bitset that can hold indices in [0, size).
func New(size uint32) Bitset {
	return Bitset{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Len returns the number of indices the bitset can hold.
func (m *Bitset) Len() uint32 {
	return m.size
}

// Count returns the number of bits set in the bitset.
func (m *Bitset) Count() uint {
	count := uint(0)
	for _, word := range m.words {
		count += uint(bits.OnesCount64(word))
	}

	return count
}

func (m *Bitset) check(idx uint32) {
	if idx >= m.size {
		panic(fmt.Sprintf("index %d is too big: must be less than %d", idx, m.size))
	}
}

// Insert inserts the given index into the bitset.
func (m *Bitset) Insert(idx uint32) {
	m.check(idx)
	m.words[idx/64] |= 1 << (idx % 64)
}

// Remove removes the given index from the bitset.
func (m *Bitset) Remove(idx uint32) {
	m.check(idx)
	m.words[idx/64] &^= 1 << (idx % 64)
}

// Contains reports whether the given index is set.
func (m *Bitset) Contains(idx uint32) bool {
	m.check(idx)
	return m.words[idx/64]&(1<<(idx%64)) != 0
}

// InsertRange sets all indices in [from, from+count) and reports whether
// none of them was set before.
func (m *Bitset) InsertRange(from uint32, count uint32) bool {
	fresh := true
	for idx := from; idx < from+count; idx++ {
		if m.Contains(idx) {
			fresh = false
		}
		m.Insert(idx)
	}

	return fresh
}

// Traverse traverses the bitset and calls the given function for each bit set.
//
// Iteration is performed from the lowest index to the highest one.
func (m *Bitset) Traverse(fn func(uint32) bool) {
	for idx, word := range m.words {
		isContinue := NewBitsTraverser(word).Traverse(func(r uint32) bool {
			return fn(64*uint32(idx) + r)
		})

		if !isContinue {
			break
		}
	}
}

// Iter returns an iterator over the indices set.
func (m *Bitset) Iter() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		m.Traverse(yield)
	}
}

// AsSlice returns the bitset as a slice of indices, where each index is a
// position of the bit set.
func (m *Bitset) AsSlice() []uint32 {
	out := make([]uint32, 0, m.Count())

	m.Traverse(func(idx uint32) bool {
		out = append(out, idx)
		return true
	})

	return out
}

// BitsTraverser iterates over all bits set in a 64-bit word, from the least
// significant bit to the most significant one.
type BitsTraverser struct {
	word uint64
}

// NewBitsTraverser constructs a new bits traverser over given 64-bit word.
func NewBitsTraverser(word uint64) BitsTraverser {
	return BitsTraverser{word: word}
}

// Traverse calls the given function for each bit set and reports whether the
// traversal ran to completion.
func (m BitsTraverser) Traverse(fn func(uint32) bool) bool {
	word := m.word

	for word > 0 {
		r := bits.TrailingZeros64(word)
		// Clear the lowest set bit.
		word &= word - 1

		if !fn(uint32(r)) {
			return false
		}
	}

	return true
}
