package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Words(t *testing.T) {
	assert.Equal(t, 0, Words(0))
	assert.Equal(t, 1, Words(1))
	assert.Equal(t, 1, Words(32))
	assert.Equal(t, 2, Words(33))
	assert.Equal(t, 4, Words(128))
}

func Test_SetGetAligned(t *testing.T) {
	buf := make([]uint32, 2)

	SetBits(buf, 0, 32, 0xdeadbeef)
	SetBits(buf, 32, 8, 0xab)

	assert.Equal(t, []uint32{0xdeadbeef, 0xab}, buf)
	assert.Equal(t, uint32(0xdeadbeef), GetBits(buf, 0, 32))
	assert.Equal(t, uint32(0xab), GetBits(buf, 32, 8))
}

func Test_SetGetUnaligned(t *testing.T) {
	buf := make([]uint32, 3)

	// Spans the first and the second word.
	SetBits(buf, 28, 12, 0xabc)

	assert.Equal(t, uint32(0xc0000000), buf[0])
	assert.Equal(t, uint32(0xab), buf[1])
	assert.Equal(t, uint32(0xabc), GetBits(buf, 28, 12))

	// Full width at an odd offset.
	SetBits(buf, 45, 32, 0x12345678)
	assert.Equal(t, uint32(0x12345678), GetBits(buf, 45, 32))
	assert.Equal(t, uint32(0xabc), GetBits(buf, 28, 12))
}

func Test_SetBitsKeepsNeighbours(t *testing.T) {
	buf := []uint32{0xffffffff, 0xffffffff}

	SetBits(buf, 30, 4, 0)

	assert.Equal(t, []uint32{0x3fffffff, 0xfffffffc}, buf)
}

func Test_SetBitsTruncatesValue(t *testing.T) {
	buf := make([]uint32, 1)

	SetBits(buf, 4, 4, 0xff)

	assert.Equal(t, uint32(0xf0), buf[0])
}

func Test_WidthAbove32Panics(t *testing.T) {
	buf := make([]uint32, 4)

	assert.NotPanics(t, func() { SetBits(buf, 0, 32, 1) })
	assert.Panics(t, func() { SetBits(buf, 0, 33, 1) })
	assert.Panics(t, func() { GetBits(buf, 0, 33) })
}

func Test_AnyBitSet(t *testing.T) {
	buf := make([]uint32, 4)

	assert.False(t, AnyBitSet(buf, 0, 128))

	SetBits(buf, 100, 1, 1)
	assert.True(t, AnyBitSet(buf, 0, 128))
	assert.True(t, AnyBitSet(buf, 64, 48))
	assert.False(t, AnyBitSet(buf, 0, 100))
	assert.False(t, AnyBitSet(buf, 101, 27))
}

func Test_Copy(t *testing.T) {
	src := []uint32{0x89abcdef, 0x01234567, 0x5}
	dst := make([]uint32, 4)

	Copy(dst, 7, src, 0, 67)

	assert.Equal(t, uint32(0), GetBits(dst, 0, 7))
	assert.Equal(t, uint32(0x89abcdef), GetBits(dst, 7, 32))
	assert.Equal(t, uint32(0x01234567), GetBits(dst, 39, 32))
	assert.Equal(t, uint32(0x5), GetBits(dst, 71, 3))
}

func Test_SetWideMAC(t *testing.T) {
	key := make([]uint32, 3)
	mask := make([]uint32, 3)

	mac := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	SetWide(key, mask, 8, mac, nil)

	// Least significant byte at the lowest offset.
	assert.Equal(t, uint32(0x55), GetBits(key, 8, 8))
	assert.Equal(t, uint32(0x22334455), GetBits(key, 8, 32))
	assert.Equal(t, uint32(0x0011), GetBits(key, 40, 16))
	assert.Equal(t, uint32(0xffffffff), GetBits(mask, 8, 32))
	assert.Equal(t, uint32(0xffff), GetBits(mask, 40, 16))
	assert.False(t, AnyBitSet(mask, 0, 8))
	assert.False(t, AnyBitSet(mask, 56, 40))

	assert.Equal(t, mac, GetWide(key, 8, 6))
}

func Test_SetWideIPv6WithMask(t *testing.T) {
	key := make([]uint32, 5)
	mask := make([]uint32, 5)

	addr := []byte{
		0xfd, 0x25, 0xcf, 0x19, 0x6b, 0x13, 0xca, 0xfe,
		0xba, 0xbe, 0xbe, 0x57, 0xf0, 0x0d, 0x00, 0x01,
	}
	prefix := make([]byte, 16)
	for idx := range 8 {
		prefix[idx] = 0xff
	}

	SetWide(key, mask, 3, addr, prefix)

	require.Equal(t, addr, GetWide(key, 3, 16))
	require.Equal(t, prefix, GetWide(mask, 3, 16))
	assert.False(t, AnyBitSet(mask, 3, 64))
	assert.True(t, AnyBitSet(mask, 67, 64))
}

func Test_SetWideLengthMismatchPanics(t *testing.T) {
	key := make([]uint32, 2)
	mask := make([]uint32, 2)

	assert.Panics(t, func() {
		SetWide(key, mask, 0, []byte{1, 2, 3}, []byte{1})
	})
}

func Test_TcamEncodeDecode(t *testing.T) {
	key, mask := uint32(0b1010), uint32(0b0110)

	x, y := TcamEncode(key, mask)
	assert.Equal(t, uint32(0b0010), x)
	assert.Equal(t, uint32(0b0100), y)

	k, m := TcamDecode(x, y)
	assert.Equal(t, key&mask, k)
	assert.Equal(t, mask, m)

	// Both bits set is the never-match cell.
	k, m = TcamDecode(1, 1)
	assert.Equal(t, uint32(1), k)
	assert.Equal(t, uint32(1), m)
}

func Test_OnesCount(t *testing.T) {
	buf := []uint32{0xffffffff, 0x0000ffff}

	assert.Equal(t, 48, OnesCount(buf, 0, 64))
	assert.Equal(t, 20, OnesCount(buf, 28, 20))
}
