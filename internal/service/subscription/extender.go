package subscription

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Extender продлевает или создаёт WhatsApp-подписку клиента.
// Работает с репозиторием текущей транзакции хранилища, поэтому продление
// фиксируется вместе со статусом позиции.
type Extender struct {
	clock  domain.Clock
	logger *log.Entry
}

// NewExtender создаёт Extender. clock по умолчанию — системное время.
func NewExtender(clock domain.Clock, logger *log.Entry) *Extender {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.New().WithField("component", "subscription")
	}
	return &Extender{clock: clock, logger: logger}
}

// ExtendOrCreate вычисляет новый срок подписки (клиент, пакет) и сохраняет его.
// Действующая подписка продлевается от своего срока, истёкшая или отсутствующая — от now.
func (e *Extender) ExtendOrCreate(
	ctx context.Context,
	subs domain.SubscriptionRepository,
	customerID, packageID string,
	duration domain.Duration,
) (domain.ServiceSubscription, error) {
	if customerID == "" || packageID == "" {
		return domain.ServiceSubscription{}, fmt.Errorf("%w: customer and package are required", domain.ErrSubscriptionExtensionFailed)
	}
	if !duration.Valid() {
		return domain.ServiceSubscription{}, fmt.Errorf("%w: %w", domain.ErrSubscriptionExtensionFailed, domain.ErrDurationInvalid)
	}

	now := e.clock.Now()
	current, err := subs.Get(ctx, customerID, packageID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		current = domain.ServiceSubscription{
			CustomerID: customerID,
			PackageID:  packageID,
			CreatedAt:  now,
		}
	case err != nil:
		return domain.ServiceSubscription{}, fmt.Errorf("%w: load subscription: %w", domain.ErrSubscriptionExtensionFailed, err)
	}

	base := now
	if current.ActiveAt(now) {
		base = current.ExpiredAt
	}
	previous := current.ExpiredAt

	current.ExpiredAt = duration.AddTo(base)
	current.UpdatedAt = now
	if err := subs.Upsert(ctx, current); err != nil {
		return domain.ServiceSubscription{}, fmt.Errorf("%w: save subscription: %w", domain.ErrSubscriptionExtensionFailed, err)
	}

	e.logger.WithFields(log.Fields{
		"customer_id": customerID,
		"package_id":  packageID,
		"duration":    duration,
		"previous":    previous,
		"expired_at":  current.ExpiredAt,
	}).Info("subscription extended")

	return current, nil
}
