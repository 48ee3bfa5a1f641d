package expiry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

const defaultInterval = time.Minute

// Expirer — пакетное истечение сроков платежей и транзакций.
type Expirer interface {
	AutoExpire(ctx context.Context, scope lifecycle.Scope) (lifecycle.ExpireResult, error)
}

// Worker периодически запускает пакетный AutoExpire. Чтение транзакции и так
// применяет истечение к ней самой; воркер догоняет заказы, которые никто не открывает.
type Worker struct {
	expirer  Expirer
	interval time.Duration
	logger   *log.Entry
}

// NewWorker создаёт воркер; неположительный interval заменяется минутой.
func NewWorker(expirer Expirer, interval time.Duration, logger *log.Entry) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = log.WithField("component", "expiry-worker")
	}
	return &Worker{expirer: expirer, interval: interval, logger: logger}
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.WithError(err).Warn("expiry sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce выполняет один пакетный проход.
func (w *Worker) SweepOnce(ctx context.Context) (lifecycle.ExpireResult, error) {
	if err := ctx.Err(); err != nil {
		return lifecycle.ExpireResult{}, err
	}
	return w.expirer.AutoExpire(ctx, lifecycle.Scope{})
}
