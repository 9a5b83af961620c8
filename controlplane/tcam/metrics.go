package tcam

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yanet-platform/tcam/controlplane/tcam/subword"
)

const metricNamespace = "tcam"

// Metrics exports table occupancy and hardware command statistics.
type Metrics struct {
	freeSlots *prometheus.GaugeVec
	rules     *prometheus.GaugeVec
	commands  *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewMetrics creates table metrics and registers them.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		freeSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "free_slots",
			Help:      "Number of unused slots below the free boundary.",
		}, []string{"table"}),
		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "rules",
			Help:      "Number of rules placed per lookup.",
		}, []string{"table", "lookup"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "hw_commands_total",
			Help:      "Number of hardware commands issued.",
		}, []string{"table", "command"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "hw_failures_total",
			Help:      "Number of hardware commands that failed or timed out.",
		}, []string{"table", "command"}),
	}

	for _, c := range []prometheus.Collector{m.freeSlots, m.rules, m.commands, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observer(table string) subword.Observer {
	if m == nil {
		return func(subword.Command, error) {}
	}

	return func(cmd subword.Command, err error) {
		m.commands.WithLabelValues(table, string(cmd)).Inc()
		if err != nil {
			m.failures.WithLabelValues(table, string(cmd)).Inc()
		}
	}
}

func (m *Metrics) update(table string, free int, counters []uint32) {
	if m == nil {
		return
	}

	m.freeSlots.WithLabelValues(table).Set(float64(free))
	for lookup, count := range counters {
		m.rules.WithLabelValues(table, strconv.Itoa(lookup)).Set(float64(count))
	}
}
