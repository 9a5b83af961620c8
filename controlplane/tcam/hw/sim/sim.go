// Package sim implements an in-memory TCAM device.
//
// The device keeps key bits in the x/y encoding, relocates content verbatim
// on moves and journals every command, which makes it suitable both for
// tests and for dry runs of rule scripts.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/tcam/common/go/bitfield"
	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
)

// ErrAddress is returned for commands outside the table.
var ErrAddress = errors.New("address out of range")

// Op is a journaled command kind.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpMove
	OpInit
)

func (m Op) String() string {
	switch m {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpMove:
		return "move"
	case OpInit:
		return "init"
	default:
		return fmt.Sprintf("Op(%d)", uint8(m))
	}
}

// Command is a journal record.
type Command struct {
	Op Op
	// Addr is the slot address for reads and writes, the first slot for
	// inits and the low end of the range for moves.
	Addr int
	// High is the high end of a moved range.
	High int
	// Count is the number of slots initialized or the move distance.
	Count int
	// Dir is the move direction.
	Dir hw.Direction
}

func (m Command) String() string {
	switch m.Op {
	case OpMove:
		return fmt.Sprintf("move %s [%d,%d] by %d", m.Dir, m.Addr, m.High, m.Count)
	case OpInit:
		return fmt.Sprintf("init [%d,%d]", m.Addr, m.Addr+m.Count-1)
	default:
		return fmt.Sprintf("%s %d", m.Op, m.Addr)
	}
}

// Move returns a move journal record.
func Move(low int, high int, distance int, dir hw.Direction) Command {
	return Command{Op: OpMove, Addr: low, High: high, Count: distance, Dir: dir}
}

// Init returns an init journal record.
func Init(addr int, count int) Command {
	return Command{Op: OpInit, Addr: addr, Count: count}
}

type options struct {
	Log          *zap.SugaredLogger
	Latency      int
	PollInterval time.Duration
}

func newOptions() *options {
	return &options{
		Log:          zap.NewNop().Sugar(),
		PollInterval: hw.DefaultPollInterval,
	}
}

// Option configures the simulated device.
type Option func(*options)

// WithLog sets the device logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithLatency makes every command report busy for the given number of polls.
func WithLatency(polls int) Option {
	return func(o *options) {
		o.Latency = polls
	}
}

// WithPollInterval sets the interval between idle checks.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) {
		o.PollInterval = interval
	}
}

// Device is a simulated TCAM table.
type Device struct {
	mu       sync.Mutex
	geometry geometry.Geometry
	info     geometry.Info
	slots    []hw.Subword
	journal  []Command
	pending  int
	stuck    bool
	// stickAfter is the number of commands left before the device hangs,
	// negative when disabled.
	stickAfter int
	opts       *options
}

// New creates a simulated table of the given geometry.
//
// Slots start zeroed, which in the x/y encoding matches any key. The table is
// expected to be initialized before use.
func New(g geometry.Geometry, options ...Option) *Device {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Device{
		geometry: g,
		info:     g.Info(),
		slots:    make([]hw.Subword, g.TotalSlots()),
		opts:     opts,

		stickAfter: -1,
	}
	for idx := range m.slots {
		m.slots[idx] = m.blank()
	}

	return m
}

func (m *Device) blank() hw.Subword {
	return hw.Subword{
		X:      make([]uint32, bitfield.Words(m.geometry.KeyWidth)),
		Y:      make([]uint32, bitfield.Words(m.geometry.KeyWidth)),
		Action: make([]uint32, bitfield.Words(m.geometry.ActionWidth)),
	}
}

func (m *Device) invalid() hw.Subword {
	sw := m.blank()
	for idx := range sw.X {
		sw.X[idx] = ^uint32(0)
		sw.Y[idx] = ^uint32(0)
	}

	return sw
}

func (m *Device) checkRange(low int, high int) error {
	if low < 0 || high >= len(m.slots) || low > high {
		return fmt.Errorf("%w: [%d,%d] in a %d-slot table", ErrAddress, low, high, len(m.slots))
	}

	return nil
}

func (m *Device) issue(cmd Command) {
	m.journal = append(m.journal, cmd)
	m.pending = m.opts.Latency

	if m.stickAfter >= 0 {
		if m.stickAfter == 0 {
			m.stuck = true
		}
		m.stickAfter--
	}
}

// ReadSubword implements hw.Device.
func (m *Device) ReadSubword(addr int) (hw.Subword, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRange(addr, addr); err != nil {
		return hw.Subword{}, err
	}
	m.issue(Command{Op: OpRead, Addr: addr})

	return m.slots[addr].Clone(), nil
}

// WriteSubword implements hw.Device.
func (m *Device) WriteSubword(addr int, sw hw.Subword) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRange(addr, addr); err != nil {
		return err
	}

	slot := m.blank()
	copy(slot.X, sw.X)
	copy(slot.Y, sw.Y)
	copy(slot.Action, sw.Action)
	slot.Counter = sw.Counter & counterMask(m.geometry.CounterWidth)

	m.issue(Command{Op: OpWrite, Addr: addr})
	m.slots[addr] = slot

	return nil
}

// Move implements hw.Device.
//
// Slots left behind by the move keep their previous content.
func (m *Device) Move(low int, high int, distance int, dir hw.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRange(low, high); err != nil {
		return err
	}

	dst := low + distance
	if dir == hw.MoveUp {
		dst = low - distance
	}
	if err := m.checkRange(dst, dst+high-low); err != nil {
		return fmt.Errorf("move %s by %d: %w", dir, distance, err)
	}

	m.issue(Move(low, high, distance, dir))

	moved := make([]hw.Subword, 0, high-low+1)
	for addr := low; addr <= high; addr++ {
		moved = append(moved, m.slots[addr].Clone())
	}
	copy(m.slots[dst:], moved)

	m.opts.Log.Debugw("moved slots",
		zap.Int("low", low),
		zap.Int("high", high),
		zap.Int("distance", distance),
		zap.Stringer("direction", dir),
	)

	return nil
}

// Init implements hw.Device.
func (m *Device) Init(addr int, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRange(addr, addr+count-1); err != nil {
		return err
	}

	m.issue(Init(addr, count))
	for idx := addr; idx < addr+count; idx++ {
		m.slots[idx] = m.invalid()
	}

	return nil
}

// PollIdle implements hw.Device.
func (m *Device) PollIdle(timeout time.Duration) error {
	return hw.Poll(context.Background(), m.busy, m.opts.PollInterval, timeout)
}

func (m *Device) busy() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stuck {
		return true, nil
	}
	if m.pending > 0 {
		m.pending--
		return true, nil
	}

	return false, nil
}

// Probe implements hw.Prober.
func (m *Device) Probe() (geometry.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.info, nil
}

// SetProbeInfo overrides the constants reported by Probe.
func (m *Device) SetProbeInfo(info geometry.Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.info = info
}

// SetStuck makes every following poll report the device busy.
func (m *Device) SetStuck(stuck bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stuck = stuck
}

// StickAfter lets the given number of commands complete and hangs the device
// on the next one. The command itself is still applied, only its completion
// is never observed.
func (m *Device) StickAfter(commands int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stickAfter = commands
}

// Hit simulates a lookup hit on the entry starting at addr.
func (m *Device) Hit(addr int, count uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := &m.slots[addr]
	limit := counterMask(m.geometry.CounterWidth)
	if uint64(slot.Counter)+uint64(count) > uint64(limit) {
		slot.Counter = limit
		return
	}
	slot.Counter += count
}

// Slot returns a copy of the registers at addr.
func (m *Device) Slot(addr int) hw.Subword {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slots[addr].Clone()
}

// NeverMatches reports whether the slot at addr holds the init pattern.
func (m *Device) NeverMatches(addr int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.slots[addr]
	for idx := range slot.X {
		if slot.X[idx] != ^uint32(0) || slot.Y[idx] != ^uint32(0) {
			return false
		}
	}

	return true
}

// Journal returns the commands issued so far.
func (m *Device) Journal() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.journal)
}

// Mutations returns the journaled moves and inits.
func (m *Device) Mutations() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Command, 0)
	for _, cmd := range m.journal {
		if cmd.Op == OpMove || cmd.Op == OpInit {
			out = append(out, cmd)
		}
	}

	return out
}

// ResetJournal drops the journaled commands.
func (m *Device) ResetJournal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.journal = m.journal[:0]
}

func counterMask(width int) uint32 {
	if width >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<width - 1
}
