package subword

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/tcam/common/go/bitfield"
	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw/sim"
)

func testGeometry() geometry.Geometry {
	return geometry.Geometry{
		Rows:           16,
		SubSlotsPerRow: 4,
		KeyWidth:       40,
		ActionWidth:    20,
		CounterWidth:   16,
		Lookups:        2,
		SizeClasses:    []int{1, 2, 4},
	}
}

func setup(t *testing.T, options ...Option) (*Engine, *sim.Device) {
	t.Helper()

	g := testGeometry()
	dev := sim.New(g)
	require.NoError(t, dev.Init(0, g.TotalSlots()))

	return NewEngine(g, dev, options...), dev
}

// entryOf builds an exact-match entry filling the whole capacity of the size
// class with a recognizable pattern.
func entryOf(g geometry.Geometry, size int, seed uint32) Entry {
	keyBits := g.KeyBits(size)
	actionBits := g.ActionBits(size)

	entry := Entry{
		Key:    make([]uint32, bitfield.Words(keyBits)),
		Mask:   make([]uint32, bitfield.Words(keyBits)),
		Action: make([]uint32, bitfield.Words(actionBits)),
	}
	for off := 0; off < keyBits; off += 8 {
		n := min(8, keyBits-off)
		bitfield.SetBits(entry.Key, off, n, seed+uint32(off))
		bitfield.SetBits(entry.Mask, off, n, ^uint32(0))
	}
	for off := 0; off < actionBits; off += 8 {
		n := min(8, actionBits-off)
		bitfield.SetBits(entry.Action, off, n, seed^uint32(off))
	}

	return entry
}

func TestWriteReadRoundTrip(t *testing.T) {
	g := testGeometry()

	cases := []struct {
		name string
		addr int
		size int
	}{
		{"single at row start", 4, 1},
		{"single at odd slot", 5, 1},
		{"single at 2-wide boundary", 6, 1},
		{"single at row end", 7, 1},
		{"double at row start", 8, 2},
		{"double at 2-wide boundary", 10, 2},
		{"quad", 12, 4},
		{"quad at address 0", 0, 4},
		{"double at address 0", 0, 2},
		{"single at address 0", 0, 1},
		{"quad at the last row", 60, 4},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			engine, _ := setup(t)
			entry := entryOf(g, c.size, uint32(c.addr)+7)
			entry.Counter = 42

			require.NoError(t, engine.Write(c.addr, c.size, entry))

			actual, size, err := engine.Read(c.addr)
			require.NoError(t, err)
			assert.Equal(t, c.size, size)
			if diff := cmp.Diff(entry, actual); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteWildcardBits(t *testing.T) {
	g := testGeometry()
	engine, _ := setup(t)

	entry := Entry{
		Key:  []uint32{0b1010, 0, 0},
		Mask: []uint32{0b0110, 0, 0},
	}
	require.NoError(t, engine.Write(2, 2, entry))

	actual, size, err := engine.Read(2)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	// Bits outside the mask do not survive the x/y encoding.
	assert.Equal(t, []uint32{0b0010, 0, 0}, actual.Key)
	assert.Equal(t, []uint32{0b0110, 0, 0}, actual.Mask)
	assert.Len(t, actual.Action, bitfield.Words(g.ActionBits(2)))
}

func TestTagLayout(t *testing.T) {
	engine, dev := setup(t)
	g := testGeometry()

	require.NoError(t, engine.Write(0, 4, entryOf(g, 4, 1)))

	// The first slot carries size 4 in a 3-bit tag.
	slot := dev.Slot(0)
	assert.Equal(t, uint32(0b100), bitfield.GetBits(slot.X, 0, 3))
	assert.Equal(t, uint32(0b011), bitfield.GetBits(slot.Y, 0, 3))

	// Continuation slots carry zero tags of widths 1, 2, 1.
	for idx, width := range []int{1, 2, 1} {
		slot := dev.Slot(1 + idx)
		assert.Equal(t, uint32(0), bitfield.GetBits(slot.X, 0, width), "slot %d", 1+idx)
		assert.Equal(t, uint32(1)<<width-1, bitfield.GetBits(slot.Y, 0, width), "slot %d", 1+idx)
	}
}

func TestReadNoEntry(t *testing.T) {
	engine, _ := setup(t)
	g := testGeometry()

	// Initialized slot.
	_, _, err := engine.Read(3)
	assert.ErrorIs(t, err, ErrNoEntry)

	// Continuation slots of a quad.
	require.NoError(t, engine.Write(8, 4, entryOf(g, 4, 3)))
	for addr := 9; addr < 12; addr++ {
		_, _, err := engine.Read(addr)
		assert.ErrorIs(t, err, ErrNoEntry, "addr %d", addr)
	}

	// Continuation slot of a double.
	require.NoError(t, engine.Write(12, 2, entryOf(g, 2, 3)))
	_, _, err = engine.Read(13)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestReadWildcardTag(t *testing.T) {
	g := testGeometry()
	// Not initialized: zero x/y matches anything, which is not a valid tag.
	engine := NewEngine(g, sim.New(g))

	_, _, err := engine.Read(0)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestWriteLayoutErrors(t *testing.T) {
	engine, dev := setup(t)
	g := testGeometry()
	dev.ResetJournal()

	assert.ErrorIs(t, engine.Write(2, 4, entryOf(g, 4, 0)), ErrLayout)
	assert.ErrorIs(t, engine.Write(1, 2, entryOf(g, 2, 0)), ErrLayout)
	assert.ErrorIs(t, engine.Write(0, 3, Entry{}), ErrLayout)
	assert.ErrorIs(t, engine.Write(64, 1, Entry{}), ErrLayout)

	// Nothing reached the device.
	assert.Empty(t, dev.Journal())
}

func TestReadCounterClear(t *testing.T) {
	engine, dev := setup(t)
	g := testGeometry()

	require.NoError(t, engine.Write(4, 2, entryOf(g, 2, 9)))
	dev.Hit(4, 10)

	counter, err := engine.ReadCounter(4, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), counter)

	counter, err = engine.ReadCounter(4, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), counter)

	counter, err = engine.ReadCounter(4, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), counter)

	// Clearing keeps the entry intact.
	actual, _, err := engine.Read(4)
	require.NoError(t, err)
	assert.Equal(t, entryOf(g, 2, 9).Key, actual.Key)
}

func TestCounterSaturates(t *testing.T) {
	engine, dev := setup(t)
	g := testGeometry()

	require.NoError(t, engine.Write(0, 1, entryOf(g, 1, 0)))
	dev.Hit(0, 0xffff)
	dev.Hit(0, 10)

	counter, err := engine.ReadCounter(0, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffff), counter)
}

func TestMovePreservesContent(t *testing.T) {
	engine, _ := setup(t)
	g := testGeometry()

	quad := entryOf(g, 4, 11)
	single := entryOf(g, 1, 12)
	require.NoError(t, engine.Write(60, 4, quad))
	require.NoError(t, engine.Write(59, 1, single))

	require.NoError(t, engine.Move(59, 63, 4, hw.MoveUp))

	actual, size, err := engine.Read(56)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	assert.Equal(t, quad, actual)

	actual, size, err = engine.Read(55)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, single, actual)

	require.NoError(t, engine.Move(55, 59, 4, hw.MoveDown))
	actual, _, err = engine.Read(60)
	require.NoError(t, err)
	assert.Equal(t, quad, actual)
}

func TestTimeoutIsReturned(t *testing.T) {
	engine, dev := setup(t, WithTimeout(5*time.Millisecond))
	g := testGeometry()

	dev.SetStuck(true)

	err := engine.Write(0, 1, entryOf(g, 1, 0))
	assert.ErrorIs(t, err, hw.ErrTimeout)

	err = engine.Move(0, 3, 4, hw.MoveDown)
	assert.ErrorIs(t, err, hw.ErrTimeout)

	err = engine.Init(0, 4)
	assert.ErrorIs(t, err, hw.ErrTimeout)
}

func TestObserver(t *testing.T) {
	counts := map[Command]int{}
	failures := 0
	engine, dev := setup(t, WithObserver(func(cmd Command, err error) {
		counts[cmd]++
		if err != nil {
			failures++
		}
	}), WithTimeout(5*time.Millisecond))
	g := testGeometry()

	require.NoError(t, engine.Write(0, 4, entryOf(g, 4, 0)))
	_, _, err := engine.Read(0)
	require.NoError(t, err)
	require.NoError(t, engine.Init(0, 4))

	dev.SetStuck(true)
	require.Error(t, engine.Move(0, 3, 4, hw.MoveDown))

	assert.Equal(t, map[Command]int{
		CommandWrite: 4,
		CommandRead:  4,
		CommandInit:  1,
		CommandMove:  1,
	}, counts)
	assert.Equal(t, 1, failures)
}
