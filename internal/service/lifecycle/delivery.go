package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// CreateDeliveryRecordsIfAbsent создаёт недостающие записи доставки для
// оплаченной транзакции и возвращает количество созданных.
func (e *Engine) CreateDeliveryRecordsIfAbsent(ctx context.Context, transactionID string) (int, error) {
	var created int
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if trx.Status != domain.TransactionStatusInProgress && trx.Status != domain.TransactionStatusSuccess {
			return fmt.Errorf("%w: deliveries require a paid transaction, got %s", domain.ErrInvalidStateTransition, trx.Status)
		}
		created, err = e.createDeliveryRecords(ctx, tx, trx, e.now())
		return err
	})
	return created, err
}

// createDeliveryRecords: по записи на каждый пакет товарных позиций и одна
// сводная запись на все аддоны. Существующие записи не пересоздаются.
func (e *Engine) createDeliveryRecords(ctx context.Context, tx domain.Tx, trx domain.Transaction, now time.Time) (int, error) {
	records := make([]domain.DeliveryRecord, 0, len(trx.Products)+1)
	for _, p := range trx.Products {
		records = append(records, domain.DeliveryRecord{
			TransactionID: trx.ID,
			CustomerID:    trx.UserID,
			Kind:          domain.DeliveryKindProduct,
			PackageID:     p.PackageID,
		})
	}
	if len(trx.Addons) > 0 {
		records = append(records, domain.DeliveryRecord{
			TransactionID: trx.ID,
			CustomerID:    trx.UserID,
			Kind:          domain.DeliveryKindAddon,
		})
	}

	created := 0
	for _, rec := range records {
		rec.ID = uuid.NewString()
		rec.Status = domain.DeliveryStatusPending
		rec.CreatedAt = now
		rec.UpdatedAt = now

		ok, err := tx.Deliveries().CreateIfAbsent(ctx, rec)
		if err != nil {
			return created, fmt.Errorf("create delivery record: %w", err)
		}
		if !ok {
			continue
		}
		created++
		if e.metrics != nil {
			e.metrics.RecordDeliveryCreated()
		}
		if err := e.record(ctx, tx, change{
			aggregateType: domain.AggregateDelivery,
			aggregateID:   rec.ID,
			eventType:     domain.EventDeliveryCreated,
			transactionID: trx.ID,
			timelineType:  domain.TimelineDeliveryCreated,
			payload: map[string]any{
				"delivery_id": rec.ID,
				"kind":        string(rec.Kind),
				"package_id":  rec.PackageID,
				"customer_id": rec.CustomerID,
			},
			at: now,
		}); err != nil {
			return created, err
		}
	}
	return created, nil
}

// UpdateDeliveryStatus двигает запись доставки вперёд. При delivered покрытые
// ею позиции становятся success, после чего пересчитывается агрегат.
func (e *Engine) UpdateDeliveryStatus(ctx context.Context, deliveryID string, next domain.DeliveryStatus) (domain.DeliveryRecord, error) {
	if !next.Valid() {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: unknown delivery status %q", domain.ErrInvalidInput, next)
	}

	var result domain.DeliveryRecord
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		rec, err := tx.Deliveries().Get(ctx, deliveryID)
		if err != nil {
			return err
		}
		if rec.Status == next {
			result = rec
			return nil
		}
		if !rec.Status.CanAdvanceTo(next) {
			return fmt.Errorf("%w: delivery %s -> %s", domain.ErrInvalidStateTransition, rec.Status, next)
		}

		now := e.now()
		ok, err := tx.Deliveries().TransitionStatus(ctx, rec.ID, []domain.DeliveryStatus{rec.Status}, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: delivery changed concurrently", domain.ErrInvalidStateTransition)
		}
		if e.metrics != nil {
			e.metrics.RecordTransition(domain.AggregateDelivery, string(next))
		}
		if err := e.record(ctx, tx, change{
			aggregateType: domain.AggregateDelivery,
			aggregateID:   rec.ID,
			eventType:     domain.EventDeliveryStatusChanged,
			transactionID: rec.TransactionID,
			timelineType:  domain.TimelineDeliveryStatus,
			payload: map[string]any{
				"delivery_id": rec.ID,
				"from":        string(rec.Status),
				"status":      string(next),
			},
			at: now,
		}); err != nil {
			return err
		}

		if next == domain.DeliveryStatusDelivered {
			if err := e.completeDelivered(ctx, tx, rec, now); err != nil {
				return err
			}
		}

		result, err = tx.Deliveries().Get(ctx, rec.ID)
		return err
	})
	if err != nil {
		return domain.DeliveryRecord{}, err
	}

	e.logger.WithFields(log.Fields{
		"delivery_id":    result.ID,
		"transaction_id": result.TransactionID,
		"status":         result.Status,
	}).Info("delivery status updated")
	return result, nil
}

// ListDeliveries возвращает записи доставки транзакции.
func (e *Engine) ListDeliveries(ctx context.Context, transactionID string) ([]domain.DeliveryRecord, error) {
	var records []domain.DeliveryRecord
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		records, err = tx.Deliveries().ListByTransaction(ctx, transactionID)
		return err
	})
	return records, err
}

func (e *Engine) completeDelivered(ctx context.Context, tx domain.Tx, rec domain.DeliveryRecord, now time.Time) error {
	trx, err := tx.Transactions().Get(ctx, rec.TransactionID)
	if err != nil {
		return err
	}
	// Отменённая транзакция не завершается, доставка при этом остаётся delivered.
	if trx.Status != domain.TransactionStatusInProgress {
		return nil
	}

	switch rec.Kind {
	case domain.DeliveryKindAddon:
		filter := domain.LineFilter{TransactionID: trx.ID, Kind: domain.LineKindAddon}
		if err := e.completeLines(ctx, tx, trx, filter, "delivered", now); err != nil {
			return err
		}
	case domain.DeliveryKindProduct:
		for _, p := range trx.Products {
			if p.PackageID != rec.PackageID {
				continue
			}
			filter := domain.LineFilter{TransactionID: trx.ID, Kind: domain.LineKindProduct, LineID: p.ID}
			if err := e.completeLines(ctx, tx, trx, filter, "delivered", now); err != nil {
				return err
			}
		}
	}

	_, err = e.recompute(ctx, tx, trx.ID, now)
	return err
}
