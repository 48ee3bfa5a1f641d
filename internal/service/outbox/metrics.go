package outbox

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type workerMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

func newWorkerMetrics(registerer prometheus.Registerer) *workerMetrics {
	m := &workerMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result",
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}),
		oldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		}),
	}
	m.attempts = register(registerer, m.attempts)
	m.pending = register(registerer, m.pending)
	m.oldestAge = register(registerer, m.oldestAge)
	return m
}

// register возвращает уже зарегистрированный коллектор, если он есть.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if registerer == nil {
		return c
	}
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
