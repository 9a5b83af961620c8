// Package xnetip extends net/netip with arbitrary address masks.
package xnetip

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// NetWithMask represents an IP address with an arbitrary netmask.
// Unlike netip.Prefix, this supports non-contiguous masks (e.g., 255.255.0.255).
type NetWithMask struct {
	Addr netip.Addr
	Mask net.IPMask
}

// NewNetWithMask creates a NetWithMask from an address and mask.
// Returns an error if the mask length doesn't match the address type.
func NewNetWithMask(addr netip.Addr, mask net.IPMask) (NetWithMask, error) {
	if len(mask) != addr.BitLen()/8 {
		return NetWithMask{}, fmt.Errorf(
			"mask length %d doesn't match address type (expected %d)",
			len(mask), addr.BitLen()/8,
		)
	}

	return NetWithMask{Addr: addr, Mask: mask}.Masked(), nil
}

// FromPrefix creates a NetWithMask from a netip.Prefix.
func FromPrefix(prefix netip.Prefix) NetWithMask {
	return NetWithMask{
		Addr: prefix.Masked().Addr(),
		Mask: net.CIDRMask(prefix.Bits(), prefix.Addr().BitLen()),
	}
}

// Parse parses "addr", "addr/bits" or "addr/mask" where mask is written as
// an address of the same family.
//
// Address bits outside of the mask are cleared.
func Parse(text string) (NetWithMask, error) {
	addrText, maskText, hasMask := strings.Cut(text, "/")

	addr, err := netip.ParseAddr(addrText)
	if err != nil {
		return NetWithMask{}, err
	}
	if addr.Zone() != "" {
		return NetWithMask{}, fmt.Errorf("zoned address %q", addr)
	}
	if !hasMask {
		return FromPrefix(netip.PrefixFrom(addr, addr.BitLen())), nil
	}

	if bits, err := strconv.Atoi(maskText); err == nil {
		prefix, err := addr.Prefix(bits)
		if err != nil {
			return NetWithMask{}, err
		}
		return FromPrefix(prefix), nil
	}

	mask, err := netip.ParseAddr(maskText)
	if err != nil {
		return NetWithMask{}, fmt.Errorf("invalid mask %q: %w", maskText, err)
	}
	if mask.BitLen() != addr.BitLen() {
		return NetWithMask{}, fmt.Errorf("mask %s doesn't match address %s", mask, addr)
	}

	return NewNetWithMask(addr, mask.AsSlice())
}

// Masked returns n with the address bits outside of the mask cleared.
func (n NetWithMask) Masked() NetWithMask {
	b := n.Addr.AsSlice()
	for idx := range b {
		b[idx] &= n.Mask[idx]
	}
	addr, _ := netip.AddrFromSlice(b)

	return NetWithMask{Addr: addr, Mask: n.Mask}
}

// ToPrefix attempts to convert NetWithMask to netip.Prefix.
// Returns an error if the mask is not a valid contiguous prefix mask.
func (n NetWithMask) ToPrefix() (netip.Prefix, error) {
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, fmt.Errorf("mask is not a valid prefix (non-contiguous bits)")
	}

	prefix, err := n.Addr.Prefix(ones)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("failed to create prefix: %w", err)
	}

	return prefix, nil
}

// IsValid returns true if the NetWithMask is valid (non-zero address and mask).
func (n NetWithMask) IsValid() bool {
	return n.Addr.IsValid() && len(n.Mask) > 0
}

// String returns "addr/bits" for prefix masks and "addr/mask" otherwise.
func (n NetWithMask) String() string {
	if !n.IsValid() {
		return "invalid"
	}

	if prefix, err := n.ToPrefix(); err == nil {
		return prefix.String()
	}

	mask, _ := netip.AddrFromSlice(n.Mask)
	return fmt.Sprintf("%s/%s", n.Addr, mask)
}

// MaskBytes returns the mask as a byte slice.
func (n NetWithMask) MaskBytes() []byte {
	return []byte(n.Mask)
}
