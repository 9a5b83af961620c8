package tcam

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	table, dev := setupTable(t, WithMetrics(metrics), WithPollTimeout(time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.commands.WithLabelValues("test", "init")))
	assert.Equal(t, 64.0, testutil.ToFloat64(metrics.freeSlots.WithLabelValues("test")))

	require.NoError(t, table.Add(id(UserPTP, 0, 1), ruleOf(4, 1, 1)))
	require.NoError(t, table.Add(id(UserPTP, 0, 2), ruleOf(1, 0, 2)))

	expected := `
# HELP tcam_free_slots Number of unused slots below the free boundary.
# TYPE tcam_free_slots gauge
tcam_free_slots{table="test"} 59
# HELP tcam_rules Number of rules placed per lookup.
# TYPE tcam_rules gauge
tcam_rules{lookup="0",table="test"} 1
tcam_rules{lookup="1",table="test"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tcam_free_slots", "tcam_rules"))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.commands.WithLabelValues("test", "write")))

	dev.SetStuck(true)
	_, _, err = table.Get(id(UserPTP, 0, 2), true)
	require.ErrorIs(t, err, ErrHardwareTimeout)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("test", "read")))
}

func TestMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
