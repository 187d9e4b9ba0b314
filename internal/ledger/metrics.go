package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger writes.
type Metrics struct {
	appends    *prometheus.CounterVec
	conflicts  prometheus.Counter
	violations prometheus.Counter
}

// NewMetrics registers ledger collectors against registerer. A nil registerer
// yields unregistered collectors, which is what tests want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saldo_ledger_appends_total",
			Help: "Ledger transactions appended, by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saldo_ledger_conflicts_total",
			Help: "Ledger writes that lost the optimistic balance check.",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saldo_ledger_invariant_violations_total",
			Help: "Invariant violations found by ledger verification.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.appends, m.conflicts, m.violations)
	}
	return m
}

func (m *Metrics) appended(kind Kind) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) violated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.violations.Add(float64(n))
}
