// Package geometry describes the static layout of a hardware TCAM table.
package geometry

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidGeometry is returned when table constants are inconsistent,
	// either by themselves or with the values read back from hardware.
	ErrInvalidGeometry = errors.New("invalid table geometry")
	// ErrUnsupportedSize is returned when a key/action shape fits no
	// supported size class.
	ErrUnsupportedSize = errors.New("unsupported rule size")
)

// Geometry holds per-table constants.
//
// Widths are given per subword (slot) and include the embedded size-class
// tag for the key.
type Geometry struct {
	// Rows is the number of physical rows.
	Rows int `yaml:"rows"`
	// SubSlotsPerRow is the number of slots forming one row: 1, 2 or 4.
	SubSlotsPerRow int `yaml:"sub_slots_per_row"`
	// KeyWidth is the number of key bits of a single slot, tag included.
	KeyWidth int `yaml:"key_width"`
	// ActionWidth is the number of action bits of a single slot.
	ActionWidth int `yaml:"action_width"`
	// CounterWidth is the width of the per-rule hit counter.
	CounterWidth int `yaml:"counter_width"`
	// Lookups is the number of logical sub-stages sharing the table.
	Lookups int `yaml:"lookups"`
	// SizeClasses lists supported entry sizes in slots.
	SizeClasses []int `yaml:"size_classes"`
}

type geometry Geometry

// Default returns the geometry of a 256-slot table with four slots per row.
func Default() Geometry {
	return Geometry{
		Rows:           64,
		SubSlotsPerRow: 4,
		KeyWidth:       96,
		ActionWidth:    32,
		CounterWidth:   32,
		Lookups:        4,
		SizeClasses:    []int{1, 2, 4},
	}
}

// UnmarshalYAML decodes and validates the geometry.
func (m *Geometry) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*geometry)(m)); err != nil {
		return err
	}
	m.SizeClasses = normalize(m.SizeClasses)

	return m.Validate()
}

func normalize(sizes []int) []int {
	out := slices.Clone(sizes)
	slices.Sort(out)
	return slices.Compact(out)
}

// Validate checks that the constants describe a usable table.
func (m Geometry) Validate() error {
	if m.Rows <= 0 {
		return fmt.Errorf("%w: rows must be positive, got %d", ErrInvalidGeometry, m.Rows)
	}
	switch m.SubSlotsPerRow {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: sub-slots per row must be 1, 2 or 4, got %d", ErrInvalidGeometry, m.SubSlotsPerRow)
	}
	if len(m.SizeClasses) == 0 {
		return fmt.Errorf("%w: no size classes", ErrInvalidGeometry)
	}
	for _, size := range m.SizeClasses {
		if size != 1 && size != 2 && size != 4 {
			return fmt.Errorf("%w: size class %d is not one of 1, 2, 4", ErrInvalidGeometry, size)
		}
		if size > m.SubSlotsPerRow {
			return fmt.Errorf("%w: size class %d exceeds row width %d", ErrInvalidGeometry, size, m.SubSlotsPerRow)
		}
	}
	if !slices.IsSorted(m.SizeClasses) {
		return fmt.Errorf("%w: size classes must be sorted", ErrInvalidGeometry)
	}
	if m.KeyWidth <= m.TagWidth() {
		return fmt.Errorf("%w: key width %d leaves no room after a %d-bit tag", ErrInvalidGeometry, m.KeyWidth, m.TagWidth())
	}
	if m.ActionWidth < 0 {
		return fmt.Errorf("%w: negative action width", ErrInvalidGeometry)
	}
	if m.CounterWidth < 0 || m.CounterWidth > 32 {
		return fmt.Errorf("%w: counter width must be in [0, 32], got %d", ErrInvalidGeometry, m.CounterWidth)
	}
	if m.Lookups <= 0 {
		return fmt.Errorf("%w: at least one lookup is required", ErrInvalidGeometry)
	}

	return nil
}

// TotalSlots returns the number of slots in the table.
func (m Geometry) TotalSlots() int {
	return m.Rows * m.SubSlotsPerRow
}

// LastAddress returns the highest slot address.
func (m Geometry) LastAddress() int {
	return m.TotalSlots() - 1
}

// MaxSizeClass returns the largest supported size class.
func (m Geometry) MaxSizeClass() int {
	return m.SizeClasses[len(m.SizeClasses)-1]
}

// SupportsSize reports whether entries of the given size can be placed.
func (m Geometry) SupportsSize(size int) bool {
	return slices.Contains(m.SizeClasses, size)
}

// TagWidth returns the widest size-class tag, found at a row start.
func (m Geometry) TagWidth() int {
	return 1 + log2(m.SubSlotsPerRow)
}

// TagWidthAt returns the width of the tag that must be examined to detect
// the size class of an entry starting at the given address.
//
// A slot starting a 4-wide row carries a 3-bit tag, a slot on a 2-wide
// boundary a 2-bit one and any other slot a single bit. Address 0 is a row
// start.
func (m Geometry) TagWidthAt(addr int) int {
	pos := addr % m.SubSlotsPerRow
	if pos == 0 {
		return m.TagWidth()
	}

	return 1 + min(bits.TrailingZeros(uint(pos)), log2(m.SubSlotsPerRow))
}

// SubwordTagWidth returns the tag width of subword "idx" of an aligned entry
// of the given size.
func SubwordTagWidth(size int, idx int) int {
	if idx == 0 {
		return 1 + log2(size)
	}

	return 1 + bits.TrailingZeros(uint(idx))
}

// SubwordTag returns the tag value of subword "idx" of an entry of the given
// size: the size itself for the first subword, zero for the rest.
func SubwordTag(size int, idx int) uint32 {
	if idx == 0 {
		return uint32(size)
	}

	return 0
}

// KeyBits returns the number of logical key bits an entry of the given size
// can hold once the tags are subtracted.
func (m Geometry) KeyBits(size int) int {
	n := 0
	for idx := range size {
		n += m.KeyWidth - SubwordTagWidth(size, idx)
	}

	return n
}

// ActionBits returns the number of action bits an entry of the given size
// can hold.
func (m Geometry) ActionBits(size int) int {
	return size * m.ActionWidth
}

// Classify maps a key/action shape to the smallest supported size class that
// fits both.
func (m Geometry) Classify(keyBits int, actionBits int) (int, error) {
	if keyBits < 0 || actionBits < 0 {
		return 0, fmt.Errorf("%w: negative shape %d/%d", ErrUnsupportedSize, keyBits, actionBits)
	}

	for _, size := range m.SizeClasses {
		if keyBits <= m.KeyBits(size) && actionBits <= m.ActionBits(size) {
			return size, nil
		}
	}

	return 0, fmt.Errorf(
		"%w: %d key bits and %d action bits exceed the largest size class %d",
		ErrUnsupportedSize, keyBits, actionBits, m.MaxSizeClass(),
	)
}

// IsAligned reports whether an entry of the given size may start at addr.
func IsAligned(addr int, size int) bool {
	return addr%size == 0
}

// Info holds constants read back from hardware.
type Info struct {
	Slots          int
	SubSlotsPerRow int
	KeyWidth       int
	ActionWidth    int
	CounterWidth   int
}

// Info returns the constants the hardware is expected to report.
func (m Geometry) Info() Info {
	return Info{
		Slots:          m.TotalSlots(),
		SubSlotsPerRow: m.SubSlotsPerRow,
		KeyWidth:       m.KeyWidth,
		ActionWidth:    m.ActionWidth,
		CounterWidth:   m.CounterWidth,
	}
}

// Check compares the geometry with constants read back from hardware.
func (m Geometry) Check(info Info) error {
	if expected := m.Info(); info != expected {
		return fmt.Errorf("%w: hardware reports %+v, expected %+v", ErrInvalidGeometry, info, expected)
	}

	return nil
}

func log2(v int) int {
	return bits.Len(uint(v)) - 1
}
