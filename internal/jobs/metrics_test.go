package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger_integrity").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_integrity", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_integrity", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger_integrity")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddBulkItems("invoices", "failed", 2)
	m.AddBulkItems("invoices", "failed", 0)
	m.AddIntegrityViolations(3)
	m.AddIntegrityViolations(-1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.bulkItems.WithLabelValues("invoices", "failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.violations))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddBulkItems("invoices", "succeeded", 1)
	m.AddIntegrityViolations(1)
	require.NoError(t, m.Track("noop").End(nil))
}
