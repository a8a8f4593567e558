package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_ratelimit_decisions_total",
			Help: "Rate limit decisions by scope and outcome (allowed, denied, fail_open, fail_closed)",
		}, []string{"scope", "outcome"}),
	}
}

func (m *Metrics) Record(scope, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(scope, outcome).Inc()
}
