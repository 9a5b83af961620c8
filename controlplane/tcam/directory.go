package tcam

import (
	"fmt"
	"slices"

	"github.com/yanet-platform/tcam/common/go/bitset"
)

// placedEntry is a rule occupying physical slots.
type placedEntry struct {
	id      Identity
	rule    Rule
	size    int
	sortKey SortKey
}

// directory keeps placed entries ordered by ascending sort key, which is
// descending address order: the first entry occupies the highest slots.
//
// Entries are packed without gaps from the last address down to the free
// boundary. Addresses are not stored, they are recomputed by walking the
// list and accumulating sizes.
type directory struct {
	entries  []*placedEntry
	lastAddr int
	// free is the free boundary: the lowest used address, or the table
	// size when empty. Slots below it are unused.
	free int
}

func newDirectory(totalSlots int) *directory {
	return &directory{
		lastAddr: totalSlots - 1,
		free:     totalSlots,
	}
}

// freeSlots returns the number of unused slots.
func (m *directory) freeSlots() int {
	return m.free
}

// locate finds the entry with the given identity and its base address.
func (m *directory) locate(id Identity) (int, int, bool) {
	addr := m.lastAddr
	for idx, entry := range m.entries {
		base := addr - entry.size + 1
		if entry.id == id {
			return idx, base, true
		}
		addr = base - 1
	}

	return -1, 0, false
}

// insertionPoint finds where an entry with the given sort key and size
// belongs: the list index and the base address it will occupy once the
// entries from that index on are moved out of the way.
//
// The new entry goes before the first entry whose key is not lower.
func (m *directory) insertionPoint(key SortKey, size int) (int, int) {
	addr := m.lastAddr
	for idx, entry := range m.entries {
		if key <= entry.sortKey {
			return idx, addr - size + 1
		}
		addr -= entry.size
	}

	return len(m.entries), m.free - size
}

func (m *directory) insert(idx int, entry *placedEntry) {
	m.entries = slices.Insert(m.entries, idx, entry)
	m.free -= entry.size
}

func (m *directory) remove(idx int) *placedEntry {
	entry := m.entries[idx]
	m.entries = slices.Delete(m.entries, idx, idx+1)
	m.free += entry.size
	return entry
}

// Placement describes where a rule sits in a table.
type Placement struct {
	Identity
	Base    int
	Size    int
	Lookup  int
	SortKey SortKey
}

// Top returns the highest address occupied.
func (m Placement) Top() int {
	return m.Base + m.Size - 1
}

func (m *directory) layout() []Placement {
	out := make([]Placement, 0, len(m.entries))

	addr := m.lastAddr
	for _, entry := range m.entries {
		base := addr - entry.size + 1
		out = append(out, Placement{
			Identity: entry.id,
			Base:     base,
			Size:     entry.size,
			Lookup:   entry.rule.Lookup,
			SortKey:  entry.sortKey,
		})
		addr = base - 1
	}

	return out
}

// verify checks the packing, ordering and alignment invariants.
func (m *directory) verify() error {
	total := m.lastAddr + 1
	occupied := bitset.New(uint32(total))

	used := 0
	addr := m.lastAddr
	for idx, entry := range m.entries {
		base := addr - entry.size + 1
		if base < 0 {
			return fmt.Errorf("entry %s at index %d starts below address 0", entry.id, idx)
		}
		if base%entry.size != 0 {
			return fmt.Errorf("entry %s of size %d is not aligned at %d", entry.id, entry.size, base)
		}
		if !occupied.InsertRange(uint32(base), uint32(entry.size)) {
			return fmt.Errorf("entry %s overlaps at [%d,%d]", entry.id, base, addr)
		}
		if idx > 0 && m.entries[idx-1].sortKey > entry.sortKey {
			return fmt.Errorf("entry %s at index %d is out of order", entry.id, idx)
		}

		used += entry.size
		addr = base - 1
	}

	if used+m.free != total {
		return fmt.Errorf("%d used and %d free slots do not add up to %d", used, m.free, total)
	}
	if int(occupied.Count()) != used {
		return fmt.Errorf("%d slots marked occupied, expected %d", occupied.Count(), used)
	}
	if addr+1 != m.free {
		return fmt.Errorf("free boundary %d does not match the lowest used address %d", m.free, addr+1)
	}

	return nil
}
