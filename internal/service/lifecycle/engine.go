package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

const (
	defaultActivationTimeout = 30 * time.Second
	defaultSweepBatchSize    = 100
	defaultListLimit         = 100
)

// Extender продлевает WhatsApp-подписку в рамках транзакции хранилища.
type Extender interface {
	ExtendOrCreate(ctx context.Context, subs domain.SubscriptionRepository, customerID, packageID string, duration domain.Duration) (domain.ServiceSubscription, error)
}

// Engine управляет жизненным циклом транзакций, платежей и позиций.
// Все изменения нескольких строк выполняются внутри одной транзакции хранилища,
// конкурентные писатели разрешаются условными обновлениями.
type Engine struct {
	store    domain.Store
	extender Extender
	clock    domain.Clock
	metrics  *metrics.LifecycleMetrics
	logger   *log.Entry
	validate *validator.Validate

	activationTimeout time.Duration
	sweepBatchSize    int

	activationMu     sync.Mutex
	activationClosed bool
	activationWG     sync.WaitGroup
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger задаёт логгер движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики. Без опции метрики не пишутся.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithActivationTimeout ограничивает время фоновой активации.
func WithActivationTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.activationTimeout = timeout
		}
	}
}

// WithSweepBatchSize задаёт размер пачки при пакетном истечении.
func WithSweepBatchSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.sweepBatchSize = size
		}
	}
}

// New создаёт движок поверх хранилища и сервиса продления подписок.
func New(store domain.Store, extender Extender, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		extender:          extender,
		clock:             domain.SystemClock{},
		logger:            log.New().WithField("component", "lifecycle"),
		validate:          validator.New(),
		activationTimeout: defaultActivationTimeout,
		sweepBatchSize:    defaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// Shutdown запрещает новые фоновые активации и ждёт завершения запущенных.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.activationMu.Lock()
	e.activationClosed = true
	e.activationMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		e.activationWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
