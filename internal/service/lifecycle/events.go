package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// change — запись об изменении, которая попадает в outbox и в timeline транзакции.
type change struct {
	aggregateType string
	aggregateID   string
	eventType     string
	transactionID string
	timelineType  string
	reason        string
	payload       map[string]any
	at            time.Time
}

// record пишет событие в outbox и timeline в той же транзакции хранилища,
// что и само изменение.
func (e *Engine) record(ctx context.Context, tx domain.Tx, c change) error {
	payload := make(map[string]any, len(c.payload)+3)
	for k, v := range c.payload {
		payload[k] = v
	}
	payload["transaction_id"] = c.transactionID
	payload["ts"] = c.at.Format(time.RFC3339Nano)
	if c.reason != "" {
		payload["reason"] = c.reason
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", c.eventType, err)
	}

	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: c.aggregateType,
		AggregateID:   c.aggregateID,
		EventType:     c.eventType,
		Payload:       data,
		CreatedAt:     c.at,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", c.eventType, err)
	}
	if e.metrics != nil {
		e.metrics.RecordOutboxEvent()
	}

	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		TransactionID: c.transactionID,
		Type:          c.timelineType,
		Reason:        c.reason,
		Occurred:      c.at,
	}); err != nil {
		return fmt.Errorf("append %s timeline event: %w", c.timelineType, err)
	}
	if e.metrics != nil {
		e.metrics.RecordTimelineEvent()
	}

	return nil
}

func transactionStatusChange(trx domain.Transaction, from, to domain.TransactionStatus, reason string, at time.Time) change {
	return change{
		aggregateType: domain.AggregateTransaction,
		aggregateID:   trx.ID,
		eventType:     domain.EventTransactionStatusChanged,
		transactionID: trx.ID,
		timelineType:  domain.TimelineTransactionStatus,
		reason:        reason,
		payload: map[string]any{
			"user_id": trx.UserID,
			"from":    string(from),
			"status":  string(to),
		},
		at: at,
	}
}

func paymentStatusChange(p domain.Payment, from, to domain.PaymentStatus, reason string, at time.Time) change {
	payload := map[string]any{
		"payment_id": p.ID,
		"from":       string(from),
		"status":     string(to),
		"amount":     p.Amount,
	}
	if p.ExternalID != "" {
		payload["external_id"] = p.ExternalID
	}
	return change{
		aggregateType: domain.AggregatePayment,
		aggregateID:   p.ID,
		eventType:     domain.EventPaymentStatusChanged,
		transactionID: p.TransactionID,
		timelineType:  domain.TimelinePaymentStatus,
		reason:        reason,
		payload:       payload,
		at:            at,
	}
}

func lineStatusChange(transactionID string, filter domain.LineFilter, to domain.LineStatus, affected int, reason string, at time.Time) change {
	payload := map[string]any{
		"status":   string(to),
		"affected": affected,
	}
	if filter.Kind != "" {
		payload["kind"] = string(filter.Kind)
	}
	if filter.LineID != "" {
		payload["line_id"] = filter.LineID
	}
	return change{
		aggregateType: domain.AggregateTransaction,
		aggregateID:   transactionID,
		eventType:     domain.EventLineStatusChanged,
		transactionID: transactionID,
		timelineType:  domain.TimelineLineStatus,
		reason:        reason,
		payload:       payload,
		at:            at,
	}
}
