package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты активации для метки result.
const (
	ActivationActivated = "activated"
	ActivationNoop      = "noop"
	ActivationFailed    = "failed"
)

// LifecycleMetrics содержит метрики движка жизненного цикла заказов.
type LifecycleMetrics struct {
	transactionsCreated prometheus.Counter
	paymentsCreated     prometheus.Counter

	// Переходы статусов по сущности (transaction, payment, line, delivery) и целевому статусу.
	statusTransitions *prometheus.CounterVec

	activations        *prometheus.CounterVec
	activationDuration prometheus.Histogram
	extensions         *prometheus.CounterVec
	expired            *prometheus.CounterVec
	deliveriesCreated  prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Фоновые активации, ещё не завершившиеся.
	activeActivations prometheus.Gauge
}

// NewLifecycleMetrics создаёт метрики в реестре по умолчанию.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		transactionsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_transactions_created_total",
			Help: "Total number of transactions created by checkout",
		}),
		paymentsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_payments_created_total",
			Help: "Total number of payments created",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_status_transitions_total",
			Help: "Total number of applied status transitions by entity and target status",
		}, []string{"entity", "status"}),
		activations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_activation_runs_total",
			Help: "Total number of activation runs by result",
		}, []string{"result"}),
		activationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_activation_duration_seconds",
			Help:    "Duration of service activation after payment in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		extensions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_subscription_extensions_total",
			Help: "Total number of subscription extensions by result",
		}, []string{"result"}),
		expired: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_expired_total",
			Help: "Total number of records expired by the sweeper",
		}, []string{"kind"}),
		deliveriesCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_delivery_records_created_total",
			Help: "Total number of delivery records materialized",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeActivations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderflow_active_activations",
			Help: "Number of background activations in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransactionCreated увеличивает счётчик созданных транзакций.
func (m *LifecycleMetrics) RecordTransactionCreated() {
	m.transactionsCreated.Inc()
}

// RecordPaymentCreated увеличивает счётчик созданных платежей.
func (m *LifecycleMetrics) RecordPaymentCreated() {
	m.paymentsCreated.Inc()
}

// RecordTransition учитывает применённый переход статуса.
func (m *LifecycleMetrics) RecordTransition(entity, status string) {
	m.statusTransitions.WithLabelValues(entity, status).Inc()
}

// RecordActivation учитывает запуск активации с результатом.
func (m *LifecycleMetrics) RecordActivation(result string, duration time.Duration) {
	m.activations.WithLabelValues(result).Inc()
	m.activationDuration.Observe(duration.Seconds())
}

// RecordExtension учитывает продление подписки; ok=false означает сбой.
func (m *LifecycleMetrics) RecordExtension(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.extensions.WithLabelValues(result).Inc()
}

// RecordExpired учитывает истёкшие записи вида kind (payment, transaction).
func (m *LifecycleMetrics) RecordExpired(kind string, n int) {
	if n <= 0 {
		return
	}
	m.expired.WithLabelValues(kind).Add(float64(n))
}

// RecordDeliveryCreated увеличивает счётчик созданных записей доставки.
func (m *LifecycleMetrics) RecordDeliveryCreated() {
	m.deliveriesCreated.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *LifecycleMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LifecycleMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// ActivationStarted увеличивает количество фоновых активаций.
func (m *LifecycleMetrics) ActivationStarted() {
	m.activeActivations.Inc()
}

// ActivationFinished уменьшает количество фоновых активаций.
func (m *LifecycleMetrics) ActivationFinished() {
	m.activeActivations.Dec()
}
