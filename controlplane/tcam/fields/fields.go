// Package fields maps named protocol fields onto packed key and action bits.
package fields

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/tcam/common/go/bitfield"
	"github.com/yanet-platform/tcam/common/go/bitset"
	"github.com/yanet-platform/tcam/common/go/xnetip"
)

var (
	// ErrInvalidLayout is returned for overlapping or malformed fields.
	ErrInvalidLayout = errors.New("invalid field layout")
	// ErrUnknownField is returned when setting a field the layout lacks.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned for values not fitting their field.
	ErrInvalidValue = errors.New("invalid field value")
)

// Wildcard is the value text clearing all mask bits of a field.
const Wildcard = "*"

// Kind is the value type of a field.
type Kind uint8

const (
	KindUint Kind = iota
	KindBool
	KindMAC
	KindIPv4
	KindIPv6
	KindEtherType
	KindIPProto
)

var kindNames = [...]string{
	KindUint:      "uint",
	KindBool:      "bool",
	KindMAC:       "mac",
	KindIPv4:      "ipv4",
	KindIPv6:      "ipv6",
	KindEtherType: "ethertype",
	KindIPProto:   "ipproto",
}

// Fixed widths; zero means the width is given by the field.
var kindWidths = [...]int{
	KindBool:      1,
	KindMAC:       48,
	KindIPv4:      32,
	KindIPv6:      128,
	KindEtherType: 16,
	KindIPProto:   8,
}

func (m Kind) String() string {
	if int(m) < len(kindNames) {
		return kindNames[m]
	}
	return fmt.Sprintf("Kind(%d)", uint8(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Kind) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Kind) UnmarshalText(text []byte) error {
	for idx, name := range kindNames {
		if name == string(text) {
			*m = Kind(idx)
			return nil
		}
	}

	return fmt.Errorf("unknown field kind %q", text)
}

// Field is a named bit range.
type Field struct {
	Name string `yaml:"name"`
	// Offset is the position of the least significant bit.
	Offset int `yaml:"offset"`
	// Width may be omitted for kinds of a fixed width.
	Width int  `yaml:"width"`
	Kind  Kind `yaml:"kind"`
}

// Layout is an ordered set of non-overlapping fields.
type Layout struct {
	fields []Field
	index  map[string]int
	bits   int
}

// NewLayout validates the fields and builds a layout. Fields are rendered in
// the given order.
func NewLayout(fields []Field) (*Layout, error) {
	m := &Layout{
		fields: make([]Field, 0, len(fields)),
		index:  map[string]int{},
	}

	for _, field := range fields {
		if field.Name == "" {
			return nil, fmt.Errorf("%w: field at offset %d has no name", ErrInvalidLayout, field.Offset)
		}
		if _, ok := m.index[field.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidLayout, field.Name)
		}
		if int(field.Kind) >= len(kindNames) {
			return nil, fmt.Errorf("%w: field %q has unknown kind %d", ErrInvalidLayout, field.Name, field.Kind)
		}
		if field.Offset < 0 {
			return nil, fmt.Errorf("%w: field %q has a negative offset", ErrInvalidLayout, field.Name)
		}

		fixed := kindWidths[field.Kind]
		switch {
		case fixed != 0 && field.Width == 0:
			field.Width = fixed
		case fixed != 0 && field.Width != fixed:
			return nil, fmt.Errorf("%w: %s field %q must be %d bits wide", ErrInvalidLayout, field.Kind, field.Name, fixed)
		case fixed == 0 && (field.Width < 1 || field.Width > 64):
			return nil, fmt.Errorf("%w: uint field %q must be 1 to 64 bits wide", ErrInvalidLayout, field.Name)
		}

		m.index[field.Name] = len(m.fields)
		m.fields = append(m.fields, field)
		m.bits = max(m.bits, field.Offset+field.Width)
	}

	used := bitset.New(uint32(m.bits))
	for _, field := range m.fields {
		if !used.InsertRange(uint32(field.Offset), uint32(field.Width)) {
			return nil, fmt.Errorf("%w: field %q overlaps another field", ErrInvalidLayout, field.Name)
		}
	}

	return m, nil
}

// Bits returns the number of bits the layout spans.
func (m *Layout) Bits() int {
	return m.bits
}

// Fields returns the fields in layout order.
func (m *Layout) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Field returns a field by name.
func (m *Layout) Field(name string) (Field, bool) {
	idx, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[idx], true
}

// NewBuffers allocates zeroed value and mask buffers covering the layout. A
// zero mask matches anything.
func (m *Layout) NewBuffers() ([]uint32, []uint32) {
	return make([]uint32, bitfield.Words(m.bits)), make([]uint32, bitfield.Words(m.bits))
}

// Span returns the number of leading bits a rule actually uses: the end of
// the highest field with any bit set in "bits". Pass the mask of a key or the
// value of an action.
func (m *Layout) Span(bits []uint32) int {
	span := 0
	for _, field := range m.fields {
		if bitfield.AnyBitSet(bits, field.Offset, field.Width) {
			span = max(span, field.Offset+field.Width)
		}
	}

	return span
}

// Set parses "text" and stores it into the named field.
//
// The text is either Wildcard or a value optionally followed by "/" and a
// mask. Addresses accept prefix notation. A nil mask buffer stores the value
// only, which suits action fields.
func (m *Layout) Set(value []uint32, mask []uint32, name string, text string) error {
	field, ok := m.Field(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	if text == Wildcard {
		clearBits(value, field.Offset, field.Width)
		if mask != nil {
			clearBits(mask, field.Offset, field.Width)
		}
		return nil
	}

	switch field.Kind {
	case KindMAC, KindIPv4, KindIPv6:
		v, vm, err := parseAddress(field.Kind, text)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, name, text, err)
		}
		bitfield.SetWide(value, mask, field.Offset, v, vm)
	default:
		v, vm, err := parseScalar(field, text)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, name, text, err)
		}
		setUint(value, field.Offset, field.Width, v)
		if mask != nil {
			setUint(mask, field.Offset, field.Width, vm)
		}
	}

	return nil
}

// Render prints the fields that are not wildcards, in layout order.
//
// A nil mask renders every field with a non-zero value, which suits action
// fields.
func (m *Layout) Render(value []uint32, mask []uint32) string {
	out := make([]string, 0, len(m.fields))

	for _, field := range m.fields {
		if mask != nil && !bitfield.AnyBitSet(mask, field.Offset, field.Width) {
			continue
		}
		if mask == nil && !bitfield.AnyBitSet(value, field.Offset, field.Width) {
			continue
		}

		var text string
		switch field.Kind {
		case KindMAC, KindIPv4, KindIPv6:
			v := bitfield.GetWide(value, field.Offset, field.Width/8)
			var vm []byte
			if mask != nil {
				vm = bitfield.GetWide(mask, field.Offset, field.Width/8)
			}
			text = formatAddress(field.Kind, v, vm)
		default:
			full := widthMask(field.Width)
			vm := full
			if mask != nil {
				vm = getUint(mask, field.Offset, field.Width)
			}
			text = formatScalar(field.Kind, getUint(value, field.Offset, field.Width))
			if vm != full {
				text += fmt.Sprintf("/%#x", vm)
			}
		}
		out = append(out, field.Name+"="+text)
	}

	return strings.Join(out, " ")
}

func widthMask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<width - 1
}

func setUint(buf []uint32, off int, width int, v uint64) {
	for width > 0 {
		n := min(bitfield.MaxWidth, width)
		bitfield.SetBits(buf, off, n, uint32(v))
		v >>= n
		off += n
		width -= n
	}
}

func getUint(buf []uint32, off int, width int) uint64 {
	v := uint64(0)
	for shift := 0; shift < width; shift += bitfield.MaxWidth {
		n := min(bitfield.MaxWidth, width-shift)
		v |= uint64(bitfield.GetBits(buf, off+shift, n)) << shift
	}
	return v
}

func clearBits(buf []uint32, off int, width int) {
	for width > 0 {
		n := min(bitfield.MaxWidth, width)
		bitfield.SetBits(buf, off, n, 0)
		off += n
		width -= n
	}
}

func parseScalar(field Field, text string) (uint64, uint64, error) {
	valueText, maskText, hasMask := strings.Cut(text, "/")

	var value uint64
	var err error
	switch field.Kind {
	case KindBool:
		var b bool
		b, err = strconv.ParseBool(valueText)
		if b {
			value = 1
		}
	case KindEtherType:
		value, err = parseNamed(valueText, etherTypeNames(), field.Width)
	case KindIPProto:
		value, err = parseNamed(valueText, ipProtoNames(), field.Width)
	default:
		value, err = strconv.ParseUint(valueText, 0, field.Width)
	}
	if err != nil {
		return 0, 0, err
	}

	mask := widthMask(field.Width)
	if hasMask {
		mask, err = strconv.ParseUint(maskText, 0, field.Width)
		if err != nil {
			return 0, 0, fmt.Errorf("mask: %w", err)
		}
	}

	return value, mask, nil
}

func parseNamed(text string, names map[uint64]string, width int) (uint64, error) {
	for value, name := range names {
		if strings.EqualFold(name, text) {
			return value, nil
		}
	}

	return strconv.ParseUint(text, 0, width)
}

func formatScalar(kind Kind, v uint64) string {
	switch kind {
	case KindBool:
		return strconv.FormatBool(v != 0)
	case KindEtherType:
		if name, ok := etherTypeNames()[v]; ok {
			return name
		}
		return fmt.Sprintf("0x%04x", v)
	case KindIPProto:
		if name, ok := ipProtoNames()[v]; ok {
			return name
		}
	}

	return strconv.FormatUint(v, 10)
}

// parseAddress converts text into big-endian value and mask bytes.
func parseAddress(kind Kind, text string) ([]byte, []byte, error) {
	if kind == KindMAC {
		return parseMAC(text)
	}

	n, err := xnetip.Parse(text)
	if err != nil {
		return nil, nil, err
	}

	if kind == KindIPv4 && !n.Addr.Is4() {
		return nil, nil, fmt.Errorf("%s is not an IPv4 address", n.Addr)
	}
	if kind == KindIPv6 && !n.Addr.Is6() {
		return nil, nil, fmt.Errorf("%s is not an IPv6 address", n.Addr)
	}

	return n.Addr.AsSlice(), n.MaskBytes(), nil
}

func parseMAC(text string) ([]byte, []byte, error) {
	valueText, maskText, hasMask := strings.Cut(text, "/")

	value, err := net.ParseMAC(valueText)
	if err != nil {
		return nil, nil, err
	}
	if len(value) != 6 {
		return nil, nil, fmt.Errorf("%d-byte hardware address", len(value))
	}
	if !hasMask {
		return value, nil, nil
	}

	mask, err := net.ParseMAC(maskText)
	if err != nil {
		return nil, nil, fmt.Errorf("mask: %w", err)
	}
	if len(mask) != 6 {
		return nil, nil, fmt.Errorf("mask: %d-byte hardware address", len(mask))
	}

	return value, mask, nil
}

func formatAddress(kind Kind, value []byte, mask []byte) string {
	full := mask == nil || bitfield.OnesCount(wordsOf(mask), 0, 8*len(mask)) == 8*len(mask)

	if kind == KindMAC {
		if full {
			return net.HardwareAddr(value).String()
		}
		return net.HardwareAddr(value).String() + "/" + net.HardwareAddr(mask).String()
	}

	addr, _ := netip.AddrFromSlice(value)
	if full {
		return addr.String()
	}

	return xnetip.NetWithMask{Addr: addr, Mask: mask}.String()
}

// wordsOf packs big-endian bytes into LSB-first words.
func wordsOf(b []byte) []uint32 {
	out := make([]uint32, bitfield.Words(8*len(b)))
	bitfield.SetWide(out, nil, 0, b, nil)
	return out
}

var etherTypes = []layers.EthernetType{
	layers.EthernetTypeIPv4,
	layers.EthernetTypeARP,
	layers.EthernetTypeIPv6,
	layers.EthernetTypeDot1Q,
	layers.EthernetTypeQinQ,
	layers.EthernetTypeMPLSUnicast,
	layers.EthernetTypeMPLSMulticast,
	layers.EthernetTypePPPoEDiscovery,
	layers.EthernetTypePPPoESession,
	layers.EthernetTypeEAPOL,
	layers.EthernetTypeLinkLayerDiscovery,
}

var ipProtocols = []layers.IPProtocol{
	layers.IPProtocolICMPv4,
	layers.IPProtocolIGMP,
	layers.IPProtocolIPv4,
	layers.IPProtocolTCP,
	layers.IPProtocolUDP,
	layers.IPProtocolIPv6,
	layers.IPProtocolGRE,
	layers.IPProtocolESP,
	layers.IPProtocolAH,
	layers.IPProtocolICMPv6,
	layers.IPProtocolSCTP,
}

func etherTypeNames() map[uint64]string {
	out := make(map[uint64]string, len(etherTypes))
	for _, t := range etherTypes {
		out[uint64(t)] = t.String()
	}
	return out
}

func ipProtoNames() map[uint64]string {
	out := make(map[uint64]string, len(ipProtocols))
	for _, p := range ipProtocols {
		out[uint64(p)] = p.String()
	}
	return out
}
