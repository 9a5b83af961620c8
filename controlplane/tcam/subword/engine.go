// Package subword transfers logical rule content to and from the physical
// slots of a TCAM table.
//
// A rule of size N occupies N consecutive slots. Every slot carries a
// size-class tag in the low key bits: the first slot holds the size itself,
// continuation slots hold zero. The tag width of a continuation slot depends
// on its position inside the entry, which is why entries must be aligned to
// their size.
package subword

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/tcam/common/go/bitfield"
	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
)

var (
	// ErrNoEntry is returned when no entry starts at the address read.
	ErrNoEntry = errors.New("no entry at address")
	// ErrLayout is returned for writes that violate size or alignment
	// constraints.
	ErrLayout = errors.New("invalid entry layout")
)

// Entry is the logical content of a rule.
//
// Key and mask bits exclude the size-class tags. Bits beyond the capacity of
// the size class are ignored on write.
type Entry struct {
	Key     []uint32
	Mask    []uint32
	Action  []uint32
	Counter uint32
}

// Command names a hardware command for observers.
type Command string

const (
	CommandRead  Command = "read"
	CommandWrite Command = "write"
	CommandMove  Command = "move"
	CommandInit  Command = "init"
)

// Observer is notified about every hardware command and its outcome.
type Observer func(cmd Command, err error)

type options struct {
	Log      *zap.SugaredLogger
	Timeout  time.Duration
	Observer Observer
}

func newOptions() *options {
	return &options{
		Log:      zap.NewNop().Sugar(),
		Timeout:  hw.DefaultPollTimeout,
		Observer: func(Command, error) {},
	}
}

// Option configures the engine.
type Option func(*options)

// WithLog sets the engine logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithTimeout sets the per-command poll timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.Timeout = timeout
	}
}

// WithObserver sets the command observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.Observer = observer
	}
}

// Engine issues hardware commands for one table.
//
// It holds no state besides configuration; callers serialize access.
type Engine struct {
	geometry geometry.Geometry
	dev      hw.Device
	timeout  time.Duration
	observe  Observer
	log      *zap.SugaredLogger
}

// NewEngine creates a transfer engine over the given device.
func NewEngine(g geometry.Geometry, dev hw.Device, options ...Option) *Engine {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Engine{
		geometry: g,
		dev:      dev,
		timeout:  opts.Timeout,
		observe:  opts.Observer,
		log:      opts.Log,
	}
}

// Write writes an entry of the given size starting at addr.
func (m *Engine) Write(addr int, size int, entry Entry) error {
	if err := m.checkLayout(addr, size); err != nil {
		return err
	}

	key := pad(entry.Key, m.geometry.KeyBits(size))
	mask := pad(entry.Mask, m.geometry.KeyBits(size))
	action := pad(entry.Action, m.geometry.ActionBits(size))

	keyOff, actionOff := 0, 0
	for idx := range size {
		sw := m.encode(size, idx, key, mask, &keyOff, action, &actionOff)
		if idx == 0 {
			sw.Counter = entry.Counter
		}
		if err := m.writeSubword(addr+idx, sw); err != nil {
			return err
		}
	}

	return nil
}

func (m *Engine) encode(
	size int,
	idx int,
	key []uint32,
	mask []uint32,
	keyOff *int,
	action []uint32,
	actionOff *int,
) hw.Subword {
	width := m.geometry.KeyWidth
	tagWidth := geometry.SubwordTagWidth(size, idx)

	value := make([]uint32, bitfield.Words(width))
	care := make([]uint32, bitfield.Words(width))

	bitfield.SetBits(value, 0, tagWidth, geometry.SubwordTag(size, idx))
	bitfield.SetBits(care, 0, tagWidth, ^uint32(0))

	n := width - tagWidth
	bitfield.Copy(value, tagWidth, key, *keyOff, n)
	bitfield.Copy(care, tagWidth, mask, *keyOff, n)
	*keyOff += n

	sw := hw.Subword{
		X:      make([]uint32, len(value)),
		Y:      make([]uint32, len(value)),
		Action: make([]uint32, bitfield.Words(m.geometry.ActionWidth)),
	}
	for w := range value {
		sw.X[w], sw.Y[w] = bitfield.TcamEncode(value[w], care[w])
	}

	bitfield.Copy(sw.Action, 0, action, *actionOff, m.geometry.ActionWidth)
	*actionOff += m.geometry.ActionWidth

	return sw
}

// Read reads the entry starting at addr.
//
// The size class is detected from the tag found at addr. ErrNoEntry is
// returned for free slots and for continuation slots of wider entries.
func (m *Engine) Read(addr int) (Entry, int, error) {
	first, err := m.readSubword(addr)
	if err != nil {
		return Entry{}, 0, err
	}

	size, err := m.detect(addr, first)
	if err != nil {
		return Entry{}, 0, err
	}

	entry := Entry{
		Key:     make([]uint32, bitfield.Words(m.geometry.KeyBits(size))),
		Mask:    make([]uint32, bitfield.Words(m.geometry.KeyBits(size))),
		Action:  make([]uint32, bitfield.Words(m.geometry.ActionBits(size))),
		Counter: first.Counter,
	}

	keyOff, actionOff := 0, 0
	for idx := range size {
		sw := first
		if idx > 0 {
			sw, err = m.readSubword(addr + idx)
			if err != nil {
				return Entry{}, 0, err
			}
		}
		m.decode(size, idx, sw, &entry, &keyOff, &actionOff)
	}

	return entry, size, nil
}

// detect finds the size class of the entry starting at addr.
//
// The tag is scanned from its least significant bit; the first bit matching
// one gives the size. Only as many bits as the position of addr within its
// row allows are examined.
func (m *Engine) detect(addr int, sw hw.Subword) (int, error) {
	tagWidth := m.geometry.TagWidthAt(addr)

	for bit := range tagWidth {
		x := bitfield.GetBits(sw.X, bit, 1)
		y := bitfield.GetBits(sw.Y, bit, 1)

		switch {
		case x == 1 && y == 1:
			return 0, fmt.Errorf("%w: slot %d never matches", ErrNoEntry, addr)
		case x == 0 && y == 0:
			return 0, fmt.Errorf("%w: slot %d has a wildcard tag", ErrNoEntry, addr)
		case x == 1:
			size := 1 << bit
			if !m.geometry.SupportsSize(size) || addr+size > m.geometry.TotalSlots() {
				return 0, fmt.Errorf("%w: slot %d is tagged with size %d", ErrNoEntry, addr, size)
			}
			return size, nil
		}
	}

	return 0, fmt.Errorf("%w: slot %d continues a wider entry", ErrNoEntry, addr)
}

func (m *Engine) decode(size int, idx int, sw hw.Subword, entry *Entry, keyOff *int, actionOff *int) {
	width := m.geometry.KeyWidth
	tagWidth := geometry.SubwordTagWidth(size, idx)

	value := make([]uint32, len(sw.X))
	care := make([]uint32, len(sw.X))
	for w := range sw.X {
		value[w], care[w] = bitfield.TcamDecode(sw.X[w], sw.Y[w])
	}

	n := width - tagWidth
	bitfield.Copy(entry.Key, *keyOff, value, tagWidth, n)
	bitfield.Copy(entry.Mask, *keyOff, care, tagWidth, n)
	*keyOff += n

	bitfield.Copy(entry.Action, *actionOff, sw.Action, 0, m.geometry.ActionWidth)
	*actionOff += m.geometry.ActionWidth
}

// ReadCounter reads the hit counter of the entry starting at addr and
// optionally clears it.
func (m *Engine) ReadCounter(addr int, clear bool) (uint32, error) {
	sw, err := m.readSubword(addr)
	if err != nil {
		return 0, err
	}

	counter := sw.Counter
	if clear && counter != 0 {
		sw.Counter = 0
		if err := m.writeSubword(addr, sw); err != nil {
			return 0, err
		}
	}

	return counter, nil
}

// Move relocates slots [low, high] by "distance" in the given direction.
func (m *Engine) Move(low int, high int, distance int, dir hw.Direction) error {
	m.log.Debugw("moving slots",
		zap.Int("low", low),
		zap.Int("high", high),
		zap.Int("distance", distance),
		zap.Stringer("direction", dir),
	)

	err := m.dev.Move(low, high, distance, dir)
	if err == nil {
		err = m.dev.PollIdle(m.timeout)
	}
	m.observe(CommandMove, err)

	return err
}

// Init resets "count" slots starting at addr to the never-match pattern.
func (m *Engine) Init(addr int, count int) error {
	err := m.dev.Init(addr, count)
	if err == nil {
		err = m.dev.PollIdle(m.timeout)
	}
	m.observe(CommandInit, err)

	return err
}

func (m *Engine) readSubword(addr int) (hw.Subword, error) {
	sw, err := m.dev.ReadSubword(addr)
	if err == nil {
		err = m.dev.PollIdle(m.timeout)
	}
	m.observe(CommandRead, err)

	return sw, err
}

func (m *Engine) writeSubword(addr int, sw hw.Subword) error {
	err := m.dev.WriteSubword(addr, sw)
	if err == nil {
		err = m.dev.PollIdle(m.timeout)
	}
	m.observe(CommandWrite, err)

	return err
}

func (m *Engine) checkLayout(addr int, size int) error {
	if !m.geometry.SupportsSize(size) {
		return fmt.Errorf("%w: unsupported size %d", ErrLayout, size)
	}
	if !geometry.IsAligned(addr, size) {
		return fmt.Errorf("%w: address %d is not aligned to size %d", ErrLayout, addr, size)
	}
	if addr < 0 || addr+size > m.geometry.TotalSlots() {
		return fmt.Errorf("%w: [%d,%d] is outside the table", ErrLayout, addr, addr+size-1)
	}

	return nil
}

// pad returns a copy of words extended with zeroes to hold nbits. Words
// beyond the capacity are dropped.
func pad(words []uint32, nbits int) []uint32 {
	out := make([]uint32, bitfield.Words(nbits))
	copy(out, words)
	return out
}
