package kafka

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// OutboxPublisher публикует сообщения outbox в заданный топик.
// Ключ сообщения — идентификатор агрегата, чтобы события одной транзакции шли по порядку.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher поверх producer.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicTransactionEvents
	}
	return &OutboxPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish реализует domain.OutboxPublisher.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errNilProducer
	}

	envelope := EventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   p.now(),
	}
	if len(envelope.Payload) == 0 {
		envelope.Payload = []byte("null")
	}

	return p.producer.PublishJSON(ctx, p.topic, msg.AggregateID, envelope, map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
		HeaderOutboxID:      msg.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
