package tcam

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry keeps track of the tables of a device.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewRegistry creates an empty table registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: map[string]*Table{},
	}
}

// Register adds a table under its name.
func (m *Registry) Register(table *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table.Name()]; ok {
		return fmt.Errorf("table %q is already registered", table.Name())
	}
	m.tables[table.Name()] = table

	return nil
}

// Table returns a table by name.
func (m *Registry) Table(name string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}

	return table, nil
}

// Tables returns the sorted names of all registered tables.
func (m *Registry) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.tables))
}

// Add places a rule into the named table.
func (m *Registry) Add(table string, id Identity, rule Rule) error {
	t, err := m.Table(table)
	if err != nil {
		return err
	}

	return t.Add(id, rule)
}

// Modify replaces the content of a rule in the named table.
func (m *Registry) Modify(table string, id Identity, rule Rule) error {
	t, err := m.Table(table)
	if err != nil {
		return err
	}

	return t.Modify(id, rule)
}

// Delete removes a rule from the named table.
func (m *Registry) Delete(table string, id Identity) (Rule, error) {
	t, err := m.Table(table)
	if err != nil {
		return Rule{}, err
	}

	return t.Delete(id)
}

// Get returns a rule of the named table, optionally with its hit counter
// since the previous counter read.
func (m *Registry) Get(table string, id Identity, wantCounter bool) (Rule, *uint64, error) {
	t, err := m.Table(table)
	if err != nil {
		return Rule{}, nil, err
	}

	return t.Get(id, wantCounter)
}

// RuleCount returns the number of rules of a lookup in the named table.
func (m *Registry) RuleCount(table string, lookup int) (uint32, error) {
	t, err := m.Table(table)
	if err != nil {
		return 0, err
	}

	return t.RuleCount(lookup), nil
}
