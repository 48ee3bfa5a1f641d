package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Kafka топики
const (
	TopicTransactionEvents = "orderflow.transaction.events"
	TopicPaymentCallbacks  = "orderflow.payment.callbacks"
	TopicDeadLetterQueue   = "orderflow.dlq"
)

// Заголовки сообщений
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// EventEnvelope — формат события outbox в топике транзакций.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentCallback — уведомление платёжного шлюза о смене статуса платежа.
type PaymentCallback struct {
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	GatewayRef string    `json:"gateway_ref,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// PaymentStatus переводит статус шлюза в доменный.
func (c PaymentCallback) PaymentStatus() (domain.PaymentStatus, error) {
	status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(c.Status)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown payment status %q", domain.ErrInvalidInput, c.Status)
	}
	return status, nil
}

// ParsePaymentCallback парсит и проверяет callback шлюза.
func ParsePaymentCallback(msg *sarama.ConsumerMessage) (PaymentCallback, error) {
	var cb PaymentCallback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		return PaymentCallback{}, fmt.Errorf("%w: unmarshal payment callback: %w", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(cb.ExternalID) == "" {
		return PaymentCallback{}, fmt.Errorf("%w: external_id is required", domain.ErrInvalidInput)
	}
	if _, err := cb.PaymentStatus(); err != nil {
		return PaymentCallback{}, err
	}
	return cb, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
