package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	ops    *prometheus.CounterVec
	errors *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics
)

// EngineMetrics returns the lazily-initialised metrics registry shared by the
// ledger, notary and scheduler engines.
func EngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "smartrust",
				Subsystem: "engine",
				Name:      "ops_total",
				Help:      "Total engine operations segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "smartrust",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by module and operation.",
			}, []string{"module", "op"}),
		}
		prometheus.MustRegister(engineRegistry.ops, engineRegistry.errors)
	})
	return engineRegistry
}

// RecordOp records the outcome of one engine entry point. It is intended to be
// deferred with a pointer to the named error result so the final value is
// observed.
func (m *engineMetrics) RecordOp(module, op string, errp *error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, op).Inc()
	}
	m.ops.WithLabelValues(module, op, outcome).Inc()
}
