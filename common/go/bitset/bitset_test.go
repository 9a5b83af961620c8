package bitset

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BitsetCount(t *testing.T) {
	b := New(128)

	assert.Equal(t, uint(0), b.Count())

	b.Insert(0)
	b.Insert(42)
	assert.Equal(t, uint(2), b.Count())

	b.Remove(42)
	assert.Equal(t, uint(1), b.Count())
}

func Test_BitsetTraverse(t *testing.T) {
	b := New(1024)
	b.Insert(0)
	b.Insert(42)
	b.Insert(512)

	bits := make([]uint32, 0)
	b.Traverse(func(idx uint32) bool {
		bits = append(bits, idx)
		return true
	})

	assert.Equal(t, []uint32{0, 42, 512}, bits)
}

func Test_BitsetPartialIter(t *testing.T) {
	b := New(1024)
	b.Insert(42)
	b.Insert(512)

	bits := make([]uint32, 0)
	for bit := range b.Iter() {
		bits = append(bits, bit)
		break
	}

	assert.Equal(t, []uint32{42}, bits)
	assert.Equal(t, []uint32{42, 512}, slices.Collect(b.Iter()))
}

func Test_BitsetInsertRange(t *testing.T) {
	b := New(64)

	assert.True(t, b.InsertRange(60, 4))
	assert.True(t, b.InsertRange(56, 4))
	assert.False(t, b.InsertRange(58, 3))

	assert.Equal(t, []uint32{56, 57, 58, 59, 60, 61, 62, 63}, b.AsSlice())
}

func Test_BitsetNonWordSize(t *testing.T) {
	b := New(70)

	assert.Equal(t, uint32(70), b.Len())
	assert.NotPanics(t, func() { b.Insert(69) })
	assert.True(t, b.Contains(69))
	assert.Panics(t, func() { b.Insert(70) })
}
