package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 3
	defaultRetryDelay    = 50 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
)

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Sent   int
	Failed int
	// Deferred — сообщения, оставленные pending из-за разомкнутого breaker.
	Deferred int
}

// Worker переносит события жизненного цикла из outbox в брокер.
// Сообщение, не опубликованное за maxAttempts попыток, уходит в DLQ и помечается failed.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	breaker   *CircuitBreaker
	logger    *log.Entry
	metrics   *workerMetrics
	now       func() time.Time

	pollInterval  time.Duration
	batchSize     int
	maxAttempts   int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер выборки за проход.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт базовую задержку экспоненциального backoff; 0 отключает ожидание.
func WithRetryDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.retryDelay = delay
		}
	}
}

// WithCircuitBreaker защищает публикацию breaker'ом: пока брокер недоступен,
// сообщения остаются pending вместо исчерпания попыток и ухода в DLQ.
func WithCircuitBreaker(breaker *CircuitBreaker) Option {
	return func(w *Worker) { w.breaker = breaker }
}

// WithRegisterer регистрирует метрики воркера в переданном реестре.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(w *Worker) { w.metrics = newWorkerMetrics(registerer) }
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:          repo,
		publisher:     publisher,
		logger:        log.WithField("component", "outbox-worker"),
		now:           func() time.Time { return time.Now().UTC() },
		pollInterval:  defaultPollInterval,
		batchSize:     defaultBatchSize,
		maxAttempts:   defaultMaxAttempts,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = newWorkerMetrics(prometheus.DefaultRegisterer)
	}
	if w.breaker != nil && w.publisher != nil {
		w.publisher = &breakerPublisher{next: w.publisher, breaker: w.breaker}
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку pending-сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.observeBacklog(ctx)

	messages, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return result
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":    msg.ID,
			"event_type":   msg.EventType,
			"aggregate_id": msg.AggregateID,
		})

		pubErr := w.publish(ctx, msg)
		if errors.Is(pubErr, context.Canceled) || errors.Is(pubErr, context.DeadlineExceeded) {
			break
		}
		if errors.Is(pubErr, ErrCircuitOpen) {
			result.Deferred = len(messages) - result.Sent - result.Failed
			w.metrics.attempts.WithLabelValues("deferred").Inc()
			logger.WithError(pubErr).Warn("broker unavailable, outbox batch deferred")
			break
		}
		if pubErr == nil {
			result.Sent++
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				logger.WithError(err).Warn("mark outbox message sent")
			}
			continue
		}

		result.Failed++
		w.metrics.attempts.WithLabelValues("failed").Inc()
		logger.WithError(pubErr).Error("outbox message exhausted publish attempts")

		if err := w.sendToDLQ(ctx, msg, pubErr); err != nil {
			w.metrics.attempts.WithLabelValues("dlq_failed").Inc()
			logger.WithError(err).Warn("publish to dlq")
		}
		if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
			logger.WithError(err).Warn("mark outbox message failed")
		}
	}

	if result.Sent > 0 || result.Failed > 0 || result.Deferred > 0 {
		w.logger.WithFields(log.Fields{
			"sent":     result.Sent,
			"failed":   result.Failed,
			"deferred": result.Deferred,
		}).Debug("outbox batch processed")
	}
	return result
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.metrics.attempts.WithLabelValues("sent").Inc()
			return nil
		}
		if errors.Is(lastErr, ErrCircuitOpen) {
			return lastErr
		}
		w.metrics.attempts.WithLabelValues("retry").Inc()
		if attempt == w.maxAttempts {
			break
		}

		delay := w.backoff(attempt)
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// backoff удваивает задержку с каждой попыткой, не превышая maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryDelay <= 0 {
		return 0
	}
	delay := w.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	return delay
}

// dlqEnvelope — исходное событие вместе с причиной отказа.
type dlqEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) sendToDLQ(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		payload = quoted
	}
	body, err := json.Marshal(dlqEnvelope{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq envelope: %w", err)
	}

	dead := msg
	dead.Payload = body
	if err := w.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish dlq message: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}

	w.metrics.pending.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0)
	}
	w.metrics.oldestAge.Set(age)
}
