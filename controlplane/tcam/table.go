// Package tcam places variable-width rules into hardware TCAM tables.
//
// A table is scanned by hardware from the highest address downwards and the
// first match wins. Rules are therefore kept packed at the top of the table in
// sort key order: all 4-slot rules first, then 2-slot, then 1-slot ones, each
// group ordered by user and priority. Insertions and deletions relocate the
// neighbouring rules with hardware move commands to keep the layout packed.
package tcam

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/tcam/common/go/bitfield"
	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
	"github.com/yanet-platform/tcam/controlplane/tcam/subword"
)

type tableOptions struct {
	Log     *zap.SugaredLogger
	Timeout time.Duration
	Metrics *Metrics
}

func newTableOptions() *tableOptions {
	return &tableOptions{
		Log:     zap.NewNop().Sugar(),
		Timeout: hw.DefaultPollTimeout,
	}
}

// TableOption configures a table.
type TableOption func(*tableOptions)

// WithLog sets the table logger.
func WithLog(log *zap.SugaredLogger) TableOption {
	return func(o *tableOptions) {
		o.Log = log
	}
}

// WithPollTimeout bounds every hardware command of the table.
func WithPollTimeout(timeout time.Duration) TableOption {
	return func(o *tableOptions) {
		o.Timeout = timeout
	}
}

// WithMetrics exports table statistics through the given metrics.
func WithMetrics(metrics *Metrics) TableOption {
	return func(o *tableOptions) {
		o.Metrics = metrics
	}
}

// Table is the administration state of one physical table.
//
// All mutations and all hardware commands of a table are serialized by its
// lock. Lookups that do not touch hardware take the shared lock.
type Table struct {
	mu       sync.RWMutex
	name     string
	geometry geometry.Geometry
	dev      hw.Device
	engine   *subword.Engine
	dir      *directory
	// counters holds the number of rules per lookup.
	counters []uint32
	// broken is set once the hardware reports constants not matching the
	// geometry.
	broken  error
	metrics *Metrics
	log     *zap.SugaredLogger
}

// NewTable creates the administration state of a table and initializes the
// hardware.
//
// The geometry is validated and, when the device can report its constants,
// compared with them. The whole table is then reset to the never-match
// pattern; rules resident before are not recovered.
func NewTable(name string, g geometry.Geometry, dev hw.Device, options ...TableOption) (*Table, error) {
	opts := newTableOptions()
	for _, o := range options {
		o(opts)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("table %q: %w", name, err)
	}
	if err := probe(g, dev); err != nil {
		return nil, fmt.Errorf("table %q: %w", name, err)
	}

	log := opts.Log.With(zap.String("table", name))
	m := &Table{
		name:     name,
		geometry: g,
		dev:      dev,
		dir:      newDirectory(g.TotalSlots()),
		counters: make([]uint32, g.Lookups),
		metrics:  opts.Metrics,
		log:      log,
	}
	m.engine = subword.NewEngine(
		g,
		dev,
		subword.WithLog(log),
		subword.WithTimeout(opts.Timeout),
		subword.WithObserver(opts.Metrics.observer(name)),
	)

	if err := m.engine.Init(0, g.TotalSlots()); err != nil {
		return nil, fmt.Errorf("table %q: failed to initialize: %w", name, err)
	}
	m.updateMetrics()

	log.Infow("initialized table",
		zap.Int("slots", g.TotalSlots()),
		zap.Ints("size_classes", g.SizeClasses),
		zap.Int("lookups", g.Lookups),
	)

	return m, nil
}

func probe(g geometry.Geometry, dev hw.Device) error {
	prober, ok := dev.(hw.Prober)
	if !ok {
		return nil
	}

	info, err := prober.Probe()
	if err != nil {
		return fmt.Errorf("failed to probe hardware: %w", err)
	}

	return g.Check(info)
}

// Name returns the table name.
func (m *Table) Name() string {
	return m.name
}

// Geometry returns the table geometry.
func (m *Table) Geometry() geometry.Geometry {
	return m.geometry
}

// CheckGeometry compares the geometry with the constants reported by the
// hardware. On mismatch the table refuses all further operations.
func (m *Table) CheckGeometry() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := probe(m.geometry, m.dev); err != nil {
		m.log.Errorw("hardware geometry changed, refusing further operations", zap.Error(err))
		m.broken = err
		return err
	}

	return m.broken
}

func (m *Table) usable() error {
	if m.broken != nil {
		return fmt.Errorf("table %q is unusable: %w", m.name, m.broken)
	}
	return nil
}

// classify validates the rule and returns its size class.
func (m *Table) classify(rule *Rule) (int, error) {
	if rule.Lookup < 0 || rule.Lookup >= m.geometry.Lookups {
		return 0, fmt.Errorf("%w: lookup %d is not in [0, %d)", ErrInvalidRule, rule.Lookup, m.geometry.Lookups)
	}
	if rule.KeyBits < 0 || rule.ActionBits < 0 {
		return 0, fmt.Errorf("%w: negative shape", ErrInvalidRule)
	}
	if words := bitfield.Words(rule.KeyBits); len(rule.Key) < words || len(rule.Mask) < words {
		return 0, fmt.Errorf("%w: %d key bits need %d key and mask words", ErrInvalidRule, rule.KeyBits, words)
	}
	if words := bitfield.Words(rule.ActionBits); len(rule.Action) < words {
		return 0, fmt.Errorf("%w: %d action bits need %d words", ErrInvalidRule, rule.ActionBits, words)
	}

	return m.geometry.Classify(rule.KeyBits, rule.ActionBits)
}

// content converts the rule into the bits written to hardware. Bits beyond
// the rule shape are dropped.
func content(rule *Rule, counter uint32) subword.Entry {
	entry := subword.Entry{
		Key:     make([]uint32, bitfield.Words(rule.KeyBits)),
		Mask:    make([]uint32, bitfield.Words(rule.KeyBits)),
		Action:  make([]uint32, bitfield.Words(rule.ActionBits)),
		Counter: counter,
	}
	bitfield.Copy(entry.Key, 0, rule.Key, 0, rule.KeyBits)
	bitfield.Copy(entry.Mask, 0, rule.Mask, 0, rule.KeyBits)
	bitfield.Copy(entry.Action, 0, rule.Action, 0, rule.ActionBits)

	return entry
}

// Add places a new rule.
//
// Entries that sort after the new rule are moved towards lower addresses to
// open a gap, then the rule is written into the gap with a zero counter.
// Logical errors are reported before any hardware command is issued.
func (m *Table) Add(id Identity, rule Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	size, err := m.classify(&rule)
	if err != nil {
		return err
	}
	if _, _, ok := m.dir.locate(id); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if m.dir.freeSlots() < size {
		return fmt.Errorf("%w: %d free slots, %d required", ErrOutOfSpace, m.dir.freeSlots(), size)
	}

	sortKey := NewSortKey(m.geometry.MaxSizeClass(), size, id.User, id.Priority)
	idx, base := m.dir.insertionPoint(sortKey, size)
	top := base + size - 1
	free := m.dir.free

	moved := false
	if top >= free {
		// Entries occupy [free, top]: shift them below the new rule.
		if err := m.engine.Move(free, top, size, hw.MoveUp); err != nil {
			return m.hardwareFailure("add", id, err)
		}
		moved = true
	}

	if err := m.engine.Write(base, size, content(&rule, 0)); err != nil {
		if moved {
			// Close the gap again so the layout matches the directory.
			rerr := m.engine.Move(free-size, top-size, size, hw.MoveDown)
			if rerr == nil {
				rerr = m.engine.Init(free-size, size)
			}
			if rerr != nil {
				m.log.Errorw("failed to close the gap after a failed write",
					zap.Stringer("rule", id),
					zap.Error(rerr),
				)
			}
		}
		return m.hardwareFailure("add", id, err)
	}

	m.dir.insert(idx, &placedEntry{
		id:      id,
		rule:    rule.Clone(),
		size:    size,
		sortKey: sortKey,
	})
	m.counters[rule.Lookup]++
	m.updateMetrics()

	m.log.Debugw("added rule",
		zap.Stringer("rule", id),
		zap.Int("base", base),
		zap.Int("size", size),
		zap.Bool("moved", moved),
		zap.Int("free", m.dir.free),
	)

	return nil
}

// Delete removes a rule and returns it.
//
// The side resource of the rule is released first. Entries below the rule
// are then moved towards higher addresses to close the gap and the freed
// slots at the free boundary are reset. A failed release does not stop the
// deletion; it is reported with ErrResourceReleaseFailed along with the
// removed rule.
func (m *Table) Delete(id Identity) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return Rule{}, err
	}

	idx, base, ok := m.dir.locate(id)
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entry := m.dir.entries[idx]

	releaseErr := m.release(entry)

	free := m.dir.free
	size := entry.size
	if base != free {
		if err := m.engine.Move(free, base-1, size, hw.MoveDown); err != nil {
			return Rule{}, errors.Join(m.hardwareFailure("delete", id, err), releaseErr)
		}
	} else if err := m.engine.Init(free, size); err != nil {
		// The rule is still in place and still listed.
		return Rule{}, errors.Join(m.hardwareFailure("delete", id, err), releaseErr)
	}

	// From here on the hardware no longer holds the rule in the used region.
	m.dir.remove(idx)
	m.counters[entry.rule.Lookup]--
	m.updateMetrics()

	if base != free {
		if err := m.engine.Init(free, size); err != nil {
			return entry.rule, errors.Join(m.hardwareFailure("delete", id, err), releaseErr)
		}
	}

	m.log.Debugw("deleted rule",
		zap.Stringer("rule", id),
		zap.Int("base", base),
		zap.Int("size", size),
		zap.Int("free", m.dir.free),
	)

	return entry.rule, releaseErr
}

func (m *Table) release(entry *placedEntry) error {
	resource := entry.rule.Resource
	if resource == nil {
		return nil
	}

	// Never released twice, even if the deletion fails later on.
	entry.rule.Resource = nil
	if err := resource.Release(); err != nil {
		m.log.Warnw("failed to release rule resource",
			zap.Stringer("rule", entry.id),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", ErrResourceReleaseFailed, entry.id, err)
	}

	return nil
}

// Modify replaces the key and action of a rule in place.
//
// The new content must classify into the same size class as the existing
// rule. The side resource stays with the placed rule; the one of the new
// rule is ignored.
//
// The hit counter is read and written back together with the new content,
// since a subword write always covers the counter register. Hits landing
// between the read and the write are lost.
func (m *Table) Modify(id Identity, rule Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	idx, base, ok := m.dir.locate(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entry := m.dir.entries[idx]

	size, err := m.classify(&rule)
	if err != nil {
		return err
	}
	if size != entry.size {
		return fmt.Errorf("%w: %s occupies %d slots, new content needs %d", ErrSizeMismatch, id, entry.size, size)
	}

	counter, err := m.engine.ReadCounter(base, false)
	if err != nil {
		return m.hardwareFailure("modify", id, err)
	}
	if err := m.engine.Write(base, size, content(&rule, counter)); err != nil {
		return m.hardwareFailure("modify", id, err)
	}

	prev := entry.rule
	entry.rule = rule.Clone()
	entry.rule.Resource = prev.Resource

	if prev.Lookup != rule.Lookup {
		m.counters[prev.Lookup]--
		m.counters[rule.Lookup]++
		m.updateMetrics()
	}

	m.log.Debugw("modified rule",
		zap.Stringer("rule", id),
		zap.Int("base", base),
		zap.Int("size", size),
	)

	return nil
}

// Get returns a copy of a rule.
//
// When wantCounter is set the hit counter is read and cleared, so the
// returned value counts hits since the previous such call.
func (m *Table) Get(id Identity, wantCounter bool) (Rule, *uint64, error) {
	if wantCounter {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}

	if err := m.usable(); err != nil {
		return Rule{}, nil, err
	}

	idx, base, ok := m.dir.locate(id)
	if !ok {
		return Rule{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rule := m.dir.entries[idx].rule.Clone()

	if !wantCounter {
		return rule, nil, nil
	}

	counter, err := m.engine.ReadCounter(base, true)
	if err != nil {
		return Rule{}, nil, m.hardwareFailure("get", id, err)
	}
	value := uint64(counter)

	return rule, &value, nil
}

// Readback reads a rule back from hardware.
func (m *Table) Readback(id Identity) (subword.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return subword.Entry{}, err
	}

	_, base, ok := m.dir.locate(id)
	if !ok {
		return subword.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	entry, _, err := m.engine.Read(base)
	return entry, err
}

// RuleCount returns the number of rules placed for the given lookup.
func (m *Table) RuleCount(lookup int) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if lookup < 0 || lookup >= len(m.counters) {
		return 0
	}
	return m.counters[lookup]
}

// FreeSlots returns the number of unused slots.
func (m *Table) FreeSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dir.freeSlots()
}

// FreeBoundary returns the lowest used address, or the table size when the
// table is empty.
func (m *Table) FreeBoundary() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dir.free
}

// Placements returns the placed rules in evaluation order.
func (m *Table) Placements() []Placement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dir.layout()
}

// Verify checks the layout invariants of the table.
func (m *Table) Verify() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dir.verify()
}

func (m *Table) hardwareFailure(op string, id Identity, err error) error {
	m.log.Warnw("hardware command failed",
		zap.String("op", op),
		zap.Stringer("rule", id),
		zap.Error(err),
	)
	return err
}

func (m *Table) updateMetrics() {
	m.metrics.update(m.name, m.dir.freeSlots(), m.counters)
}
