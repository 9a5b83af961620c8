package yntcam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanet-platform/tcam/controlplane/tcam"
	"github.com/yanet-platform/tcam/controlplane/tcam/fields"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw/sim"
)

type options struct {
	Log      *zap.SugaredLogger
	Registry *prometheus.Registry
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DirectorOption is a function that configures the director.
type DirectorOption func(*options)

// WithLog sets the logger for the director.
func WithLog(log *zap.SugaredLogger) DirectorOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithMetricsRegistry sets the registry table metrics are registered on and
// served from.
func WithMetricsRegistry(registry *prometheus.Registry) DirectorOption {
	return func(o *options) {
		o.Registry = registry
	}
}

// table bundles what the director keeps per configured table.
type table struct {
	*tcam.Table
	dev    *sim.Device
	key    *fields.Layout
	action *fields.Layout
}

// Director assembles simulated tables from the configuration and drives them
// with rule scripts.
type Director struct {
	cfg      *Config
	registry *tcam.Registry
	tables   map[string]*table
	metrics  *prometheus.Registry
	log      *zap.SugaredLogger
}

// NewDirector creates the tables described by the config.
func NewDirector(cfg *Config, options ...DirectorOption) (*Director, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log
	log.Debugw("parsed config", zap.Any("config", cfg))

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics, err := tcam.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	m := &Director{
		cfg:      cfg,
		registry: tcam.NewRegistry(),
		tables:   map[string]*table{},
		metrics:  reg,
		log:      log,
	}

	for idx := range cfg.Tables {
		tableCfg := &cfg.Tables[idx]

		key, action, err := tableCfg.Layouts()
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", tableCfg.Name, err)
		}

		dev := sim.New(
			tableCfg.Geometry,
			sim.WithLog(log.Named("sim").With(zap.String("table", tableCfg.Name))),
			sim.WithLatency(tableCfg.Poll.Latency),
			sim.WithPollInterval(tableCfg.Poll.Interval),
		)
		t, err := tcam.NewTable(
			tableCfg.Name,
			tableCfg.Geometry,
			dev,
			tcam.WithLog(log),
			tcam.WithPollTimeout(tableCfg.Poll.Timeout),
			tcam.WithMetrics(metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize table: %w", err)
		}
		if err := m.registry.Register(t); err != nil {
			return nil, err
		}

		m.tables[tableCfg.Name] = &table{
			Table:  t,
			dev:    dev,
			key:    key,
			action: action,
		}
	}

	return m, nil
}

// Registry returns the tables.
func (m *Director) Registry() *tcam.Registry {
	return m.registry
}

// Device returns the simulated device behind a table.
func (m *Director) Device(name string) (*sim.Device, error) {
	t, err := m.table(name)
	if err != nil {
		return nil, err
	}
	return t.dev, nil
}

func (m *Director) table(name string) (*table, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tcam.ErrInvalidTable, name)
	}
	return t, nil
}

// Rule builds a rule for a table from named field values.
//
// The rule shape covers the used fields only, so rules matching on few
// low fields occupy fewer slots.
func (m *Director) Rule(name string, lookup int, match map[string]string, action map[string]string) (tcam.Rule, error) {
	t, err := m.table(name)
	if err != nil {
		return tcam.Rule{}, err
	}

	key, mask := t.key.NewBuffers()
	for field, text := range match {
		if err := t.key.Set(key, mask, field, text); err != nil {
			return tcam.Rule{}, fmt.Errorf("%w: %w", tcam.ErrInvalidRule, err)
		}
	}

	value, _ := t.action.NewBuffers()
	for field, text := range action {
		if err := t.action.Set(value, nil, field, text); err != nil {
			return tcam.Rule{}, fmt.Errorf("%w: %w", tcam.ErrInvalidRule, err)
		}
	}

	return tcam.Rule{
		Key:        key,
		Mask:       mask,
		KeyBits:    t.key.Span(mask),
		Action:     value,
		ActionBits: t.action.Span(value),
		Lookup:     lookup,
	}, nil
}

// Describe renders the match and action fields of a rule placed in a table.
func (m *Director) Describe(name string, rule tcam.Rule) string {
	t, err := m.table(name)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("match[%s] action[%s]", t.key.Render(rule.Key, rule.Mask), t.action.Render(rule.Action, nil))
}

// Result is the outcome of a replayed step.
type Result struct {
	Step    *Step
	Rule    *tcam.Rule
	Counter *uint64
	Err     error
}

// Replay applies the script steps in order.
//
// It stops at the first step whose outcome differs from the expected one or
// when the context is done. Results of all applied steps are returned.
func (m *Director) Replay(ctx context.Context, script *Script) ([]Result, error) {
	results := make([]Result, 0, len(script.Steps))

	for idx := range script.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		step := &script.Steps[idx]
		result := m.apply(step)
		results = append(results, result)

		if !step.expected(result.Err) {
			if result.Err == nil {
				return results, fmt.Errorf("step %d: %s %s succeeded, expected %s", idx, step.Op, step.Identity(), step.Expect)
			}
			return results, fmt.Errorf("step %d: %s %s: %w", idx, step.Op, step.Identity(), result.Err)
		}

		m.log.Debugw("applied step",
			zap.Int("step", idx),
			zap.String("op", string(step.Op)),
			zap.String("table", step.Table),
			zap.Stringer("rule", step.Identity()),
			zap.Error(result.Err),
		)
	}

	return results, nil
}

func (m *Director) apply(step *Step) Result {
	result := Result{Step: step}
	id := step.Identity()

	switch step.Op {
	case OpAdd, OpModify:
		rule, err := m.Rule(step.Table, step.Lookup, step.Match, step.Action)
		if err != nil {
			result.Err = err
			return result
		}
		if step.Op == OpAdd {
			result.Err = m.registry.Add(step.Table, id, rule)
		} else {
			result.Err = m.registry.Modify(step.Table, id, rule)
		}
		result.Rule = &rule
	case OpDelete:
		rule, err := m.registry.Delete(step.Table, id)
		result.Err = err
		if err == nil || errors.Is(err, tcam.ErrResourceReleaseFailed) {
			result.Rule = &rule
		}
	case OpGet:
		rule, counter, err := m.registry.Get(step.Table, id, step.Counter)
		result.Err = err
		if err == nil {
			result.Rule = &rule
			result.Counter = counter
		}
	case OpHit:
		result.Err = m.hit(step.Table, id, step.Hits)
	}

	return result
}

func (m *Director) hit(name string, id tcam.Identity, hits uint32) error {
	t, err := m.table(name)
	if err != nil {
		return err
	}

	for _, p := range t.Placements() {
		if p.Identity == id {
			t.dev.Hit(p.Base, hits)
			return nil
		}
	}

	return fmt.Errorf("%w: %s", tcam.ErrNotFound, id)
}

// MetricsHandler serves the table metrics.
func (m *Director) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.metrics, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on the configured endpoint until the context is
// done.
func (m *Director) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.cfg.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", m.cfg.MetricsEndpoint, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.MetricsHandler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.log.Infow("serving metrics", zap.Stringer("addr", listener.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}

	return ctx.Err()
}
