package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// Агрегаты, от имени которых пишутся события.
const (
	AggregateTransaction = "transaction"
	AggregatePayment     = "payment"
	AggregateDelivery    = "delivery"
)

// Типы событий outbox.
const (
	EventTransactionCreated       = "transaction.created"
	EventTransactionStatusChanged = "transaction.status_changed"
	EventLineStatusChanged        = "transaction.line_status_changed"
	EventPaymentCreated           = "payment.created"
	EventPaymentStatusChanged     = "payment.status_changed"
	EventDeliveryCreated          = "delivery.created"
	EventDeliveryStatusChanged    = "delivery.status_changed"
	EventSubscriptionExtended     = "subscription.extended"
	EventActivationFailed         = "subscription.activation_failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
