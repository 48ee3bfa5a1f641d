package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupWorker удаляет idempotency-ключи с истёкшим TTL.
// Redis-бэкенд истекает сам, воркер нужен memory и postgres хранилищам.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	clock     domain.Clock
	interval  time.Duration
	batchSize int

	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) CleanupOption {
	return func(w *CleanupWorker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewCleanupWorker создаёт воркер; метрики регистрируются в registerer (nil — без регистрации).
func NewCleanupWorker(repo domain.IdempotencyRepository, registerer prometheus.Registerer, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		clock:     domain.SystemClock{},
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency keys deleted",
		}),
		lastDeleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_idempotency_cleanup_last_deleted",
			Help: "Idempotency keys deleted by the last run",
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if registerer != nil {
		w.runs = registerOrExisting(registerer, w.runs)
		w.deleted = registerOrExisting(registerer, w.deleted)
		w.lastDeleted = registerOrExisting(registerer, w.lastDeleted)
	}
	return w
}

func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	err := registerer.Register(c)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

// Run чистит ключи сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.clock.Now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.runs.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup failed")
		return
	}

	w.runs.WithLabelValues("ok").Inc()
	w.lastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// DeleteExpired удаляет записи с TTL не позже before, пачками по batchSize,
// пока очередная пачка не окажется неполной.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.deleted.Add(float64(n))

		if n < w.batchSize {
			return total, nil
		}
	}
}
