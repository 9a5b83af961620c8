// Package bitfield implements get/set of bit fields over arrays of 32-bit
// words, as used by hardware table entries.
//
// Bits are numbered from the least significant bit of the first word, so bit
// 32 is the least significant bit of the second word.
package bitfield

import (
	"fmt"
	"math/bits"
)

// MaxWidth is the widest field that SetBits and GetBits accept.
const MaxWidth = 32

// Words returns the number of 32-bit words required to hold the given number
// of bits.
func Words(nbits int) int {
	return (nbits + 31) / 32
}

func checkWidth(width int) {
	if width < 0 || width > MaxWidth {
		panic(fmt.Sprintf("bit field width %d is out of range: must be in [0, %d]", width, MaxWidth))
	}
}

func lowMask(width int) uint32 {
	if width >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<width - 1
}

// SetBits writes the low "width" bits of value into buf starting at bit
// offset "off".
//
// The field may span two words. A width of more than 32 bits is a
// programming error and panics.
func SetBits(buf []uint32, off int, width int, value uint32) {
	checkWidth(width)

	value &= lowMask(width)
	for width > 0 {
		idx, shift := off/32, off%32
		n := min(32-shift, width)
		mask := lowMask(n) << shift

		buf[idx] = buf[idx]&^mask | (value<<shift)&mask

		value >>= n
		off += n
		width -= n
	}
}

// GetBits reads "width" bits from buf starting at bit offset "off".
//
// A width of more than 32 bits is a programming error and panics.
func GetBits(buf []uint32, off int, width int) uint32 {
	checkWidth(width)

	value := uint32(0)
	done := 0
	for done < width {
		idx, shift := off/32, off%32
		n := min(32-shift, width-done)

		value |= ((buf[idx] >> shift) & lowMask(n)) << done

		off += n
		done += n
	}

	return value
}

// AnyBitSet reports whether any of the "width" bits starting at "off" is set.
//
// Unlike GetBits the width is not limited.
func AnyBitSet(buf []uint32, off int, width int) bool {
	for width > 0 {
		n := min(MaxWidth, width)
		if GetBits(buf, off, n) != 0 {
			return true
		}
		off += n
		width -= n
	}

	return false
}

// Copy copies "width" bits from src at bit offset srcOff into dst at bit
// offset dstOff.
func Copy(dst []uint32, dstOff int, src []uint32, srcOff int, width int) {
	for width > 0 {
		n := min(MaxWidth, width)
		SetBits(dst, dstOff, n, GetBits(src, srcOff, n))
		dstOff += n
		srcOff += n
		width -= n
	}
}

// SetWide writes a big-endian byte array, such as a MAC or an IPv6 address,
// into key starting at bit offset "off" together with its mask.
//
// The byte order is reversed so the least significant byte of value lands at
// the lowest bit offset. A nil mask buffer skips the mask update, a nil
// valueMask means an exact match.
func SetWide(key []uint32, mask []uint32, off int, value []byte, valueMask []byte) {
	if valueMask != nil && len(valueMask) != len(value) {
		panic(fmt.Sprintf("value and mask lengths differ: %d != %d", len(value), len(valueMask)))
	}

	n := len(value)
	for idx := n - 1; idx >= 0; {
		// Chunk up to 4 bytes into one write, least significant byte first.
		chunk := min(4, idx+1)
		v, m := uint32(0), uint32(0)
		for j := 0; j < chunk; j++ {
			v |= uint32(value[idx-j]) << (8 * j)
			if valueMask != nil {
				m |= uint32(valueMask[idx-j]) << (8 * j)
			} else {
				m |= 0xff << (8 * j)
			}
		}

		SetBits(key, off, 8*chunk, v)
		if mask != nil {
			SetBits(mask, off, 8*chunk, m)
		}

		off += 8 * chunk
		idx -= chunk
	}
}

// GetWide reads "n" bytes from buf starting at bit offset "off" and returns
// them in big-endian order.
//
// This is the inverse of SetWide for a single buffer.
func GetWide(buf []uint32, off int, n int) []byte {
	out := make([]byte, n)
	for idx := n - 1; idx >= 0; idx-- {
		out[idx] = byte(GetBits(buf, off, 8))
		off += 8
	}

	return out
}

// TcamEncode converts a key/mask pair into the TCAM x/y cell encoding.
//
// A bit with x set matches one, a bit with y set matches zero, a bit with
// neither set matches anything and a bit with both set never matches.
func TcamEncode(key uint32, mask uint32) (x uint32, y uint32) {
	return mask & key, mask &^ key
}

// TcamDecode is the inverse of TcamEncode.
//
// Cells that never match decode into a set key bit with a set mask bit.
func TcamDecode(x uint32, y uint32) (key uint32, mask uint32) {
	return x, x | y
}

// OnesCount returns the number of bits set in the "width" bits starting at
// "off".
func OnesCount(buf []uint32, off int, width int) int {
	count := 0
	for width > 0 {
		n := min(MaxWidth, width)
		count += bits.OnesCount32(GetBits(buf, off, n))
		off += n
		width -= n
	}

	return count
}
