package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

var (
	unpaidStatuses     = []domain.TransactionStatus{domain.TransactionStatusCreated, domain.TransactionStatusPending}
	inProgressStatuses = []domain.TransactionStatus{domain.TransactionStatusInProgress}
	pendingLines       = []domain.LineStatus{domain.LineStatusPending}
	inProgressLines    = []domain.LineStatus{domain.LineStatusInProgress}

	cancelableStatuses = []domain.TransactionStatus{domain.TransactionStatusCreated, domain.TransactionStatusPending, domain.TransactionStatusInProgress}
)

// CreateTransaction оформляет заказ в статусе created со сроком жизни TransactionTTL.
func (e *Engine) CreateTransaction(ctx context.Context, in CreateTransactionInput) (domain.Transaction, error) {
	if err := e.validateInput(in); err != nil {
		return domain.Transaction{}, err
	}
	if len(in.Products) == 0 && len(in.Addons) == 0 && in.Whatsapp == nil {
		return domain.Transaction{}, domain.ErrLinesRequired
	}

	now := e.now()
	trx := domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Status:    domain.TransactionStatusCreated,
		Currency:  in.Currency,
		VoucherID: in.VoucherID,
		ExpiresAt: domain.TransactionExpiresAt(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range in.Products {
		trx.Products = append(trx.Products, domain.ProductLine{
			ID:            uuid.NewString(),
			TransactionID: trx.ID,
			PackageID:     p.PackageID,
			Quantity:      p.Quantity,
			UnitPrice:     p.UnitPrice,
			Status:        domain.LineStatusPending,
		})
	}
	for _, a := range in.Addons {
		trx.Addons = append(trx.Addons, domain.AddonLine{
			ID:            uuid.NewString(),
			TransactionID: trx.ID,
			AddonID:       a.AddonID,
			Quantity:      a.Quantity,
			UnitPrice:     a.UnitPrice,
			Status:        domain.LineStatusPending,
		})
	}
	if w := in.Whatsapp; w != nil {
		trx.Whatsapp = &domain.WhatsappLine{
			ID:            uuid.NewString(),
			TransactionID: trx.ID,
			PackageID:     w.PackageID,
			Duration:      w.Duration,
			Price:         w.Price,
			Status:        domain.LineStatusPending,
		}
	}

	total, err := domain.LinesTotal(trx.Products, trx.Addons, trx.Whatsapp)
	if err != nil {
		return domain.Transaction{}, err
	}
	trx.OriginalAmount = total
	trx.DiscountAmount = in.DiscountAmount
	trx.TotalAfterDiscount = trx.OriginalAmount - trx.DiscountAmount
	trx.FinalAmount = trx.TotalAfterDiscount
	if errs := trx.ValidateInvariants(); len(errs) > 0 {
		return domain.Transaction{}, errors.Join(errs...)
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Transactions().Create(ctx, trx); err != nil {
			return err
		}
		return e.record(ctx, tx, change{
			aggregateType: domain.AggregateTransaction,
			aggregateID:   trx.ID,
			eventType:     domain.EventTransactionCreated,
			transactionID: trx.ID,
			timelineType:  domain.TimelineTransactionCreated,
			payload: map[string]any{
				"user_id":      trx.UserID,
				"type":         string(trx.Type()),
				"final_amount": trx.FinalAmount,
				"currency":     string(trx.Currency),
				"expires_at":   trx.ExpiresAt.Format(time.RFC3339Nano),
			},
			at: now,
		})
	})
	if err != nil {
		e.logger.WithError(err).WithField("user_id", in.UserID).Warn("create transaction failed")
		return domain.Transaction{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordTransactionCreated()
	}
	e.logger.WithFields(log.Fields{
		"transaction_id": trx.ID,
		"user_id":        trx.UserID,
		"type":           trx.Type(),
	}).Info("transaction created")
	return trx, nil
}

// MarkPending переводит транзакцию в pending при создании платежа.
func (e *Engine) MarkPending(ctx context.Context, transactionID string) error {
	return e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		return e.markPending(ctx, tx, trx, e.now())
	})
}

// MarkInProgress переводит оплаченную транзакцию и её позиции в in_progress
// и создаёт записи доставки. Повторный вызов не является ошибкой.
func (e *Engine) MarkInProgress(ctx context.Context, transactionID string) error {
	return e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		return e.markInProgress(ctx, tx, trx, e.now())
	})
}

// MarkChildSuccess отмечает позицию (или все позиции вида при пустом lineID)
// выполненной и пересчитывает агрегатный статус.
func (e *Engine) MarkChildSuccess(ctx context.Context, transactionID string, kind domain.LineKind, lineID string) (domain.TransactionStatus, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown line kind %q", domain.ErrInvalidInput, kind)
	}

	var status domain.TransactionStatus
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		now := e.now()
		filter := domain.LineFilter{TransactionID: trx.ID, Kind: kind, LineID: lineID}
		if err := e.completeLines(ctx, tx, trx, filter, "line completed", now); err != nil {
			return err
		}
		status, err = e.recompute(ctx, tx, trx.ID, now)
		return err
	})
	return status, err
}

// RecomputeAggregate выставляет success, если все позиции выполнены.
// Единственный путь транзакции в success.
func (e *Engine) RecomputeAggregate(ctx context.Context, transactionID string) (domain.TransactionStatus, error) {
	var status domain.TransactionStatus
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		status, err = e.recompute(ctx, tx, transactionID, e.now())
		return err
	})
	return status, err
}

// Cancel отменяет незавершённую транзакцию вместе с pending-платежом и позициями.
// Записи доставки не трогаются; оплаченный платёж остаётся paid.
func (e *Engine) Cancel(ctx context.Context, transactionID, reason string) (domain.Transaction, error) {
	var result domain.Transaction
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if trx.Status == domain.TransactionStatusCancelled {
			result = trx
			return nil
		}
		if trx.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel %s transaction", domain.ErrInvalidStateTransition, trx.Status)
		}

		now := e.now()
		ok, err := tx.Transactions().TransitionStatus(ctx, trx.ID, cancelableStatuses, domain.TransactionStatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: transaction changed concurrently", domain.ErrInvalidStateTransition)
		}
		if err := e.record(ctx, tx, transactionStatusChange(trx, trx.Status, domain.TransactionStatusCancelled, reason, now)); err != nil {
			return err
		}

		if err := e.cancelPayments(ctx, tx, trx.ID, domain.PaymentStatusCancelled, reason, now); err != nil {
			return err
		}
		if err := e.cancelLines(ctx, tx, trx.ID, reason, now); err != nil {
			return err
		}

		result, err = tx.Transactions().Get(ctx, trx.ID)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordTransition(domain.AggregateTransaction, string(domain.TransactionStatusCancelled))
	}
	e.logger.WithFields(log.Fields{
		"transaction_id": transactionID,
		"reason":         reason,
	}).Info("transaction cancelled")
	return result, nil
}

func (e *Engine) markPending(ctx context.Context, tx domain.Tx, trx domain.Transaction, now time.Time) error {
	switch trx.Status {
	case domain.TransactionStatusPending:
		return nil
	case domain.TransactionStatusCreated:
	default:
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, trx.Status, domain.TransactionStatusPending)
	}

	ok, err := tx.Transactions().TransitionStatus(ctx, trx.ID, unpaidStatuses, domain.TransactionStatusPending, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: transaction changed concurrently", domain.ErrInvalidStateTransition)
	}
	// Позиции неоплаченной транзакции всегда pending, переводить их не нужно.
	if e.metrics != nil {
		e.metrics.RecordTransition(domain.AggregateTransaction, string(domain.TransactionStatusPending))
	}
	return e.record(ctx, tx, transactionStatusChange(trx, trx.Status, domain.TransactionStatusPending, "payment created", now))
}

func (e *Engine) markInProgress(ctx context.Context, tx domain.Tx, trx domain.Transaction, now time.Time) error {
	switch trx.Status {
	case domain.TransactionStatusInProgress, domain.TransactionStatusSuccess:
		return nil
	case domain.TransactionStatusCreated, domain.TransactionStatusPending:
	default:
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, trx.Status, domain.TransactionStatusInProgress)
	}

	ok, err := tx.Transactions().TransitionStatus(ctx, trx.ID, unpaidStatuses, domain.TransactionStatusInProgress, now)
	if err != nil {
		return err
	}
	if !ok {
		fresh, err := tx.Transactions().Get(ctx, trx.ID)
		if err != nil {
			return err
		}
		if fresh.Status == domain.TransactionStatusInProgress || fresh.Status == domain.TransactionStatusSuccess {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, fresh.Status, domain.TransactionStatusInProgress)
	}
	if err := e.record(ctx, tx, transactionStatusChange(trx, trx.Status, domain.TransactionStatusInProgress, "payment paid", now)); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition(domain.AggregateTransaction, string(domain.TransactionStatusInProgress))
	}

	filter := domain.LineFilter{TransactionID: trx.ID}
	n, err := tx.Lines().TransitionStatus(ctx, filter, pendingLines, domain.LineStatusInProgress)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := e.record(ctx, tx, lineStatusChange(trx.ID, filter, domain.LineStatusInProgress, n, "payment paid", now)); err != nil {
			return err
		}
	}

	_, err = e.createDeliveryRecords(ctx, tx, trx, now)
	return err
}

// completeLines переводит позиции из in_progress в success. Уже выполненные
// позиции пропускаются; позиции в других статусах дают ErrInvalidStateTransition.
func (e *Engine) completeLines(ctx context.Context, tx domain.Tx, trx domain.Transaction, filter domain.LineFilter, reason string, now time.Time) error {
	n, err := tx.Lines().TransitionStatus(ctx, filter, inProgressLines, domain.LineStatusSuccess)
	if err != nil {
		return err
	}
	if n > 0 {
		if e.metrics != nil {
			e.metrics.RecordTransition("line", string(domain.LineStatusSuccess))
		}
		return e.record(ctx, tx, lineStatusChange(trx.ID, filter, domain.LineStatusSuccess, n, reason, now))
	}

	matched := 0
	for _, line := range trx.Lines() {
		if !filter.Matches(line) {
			continue
		}
		matched++
		switch line.CurrentStatus() {
		case domain.LineStatusSuccess, domain.LineStatusInProgress:
		default:
			return fmt.Errorf("%w: line %s is %s", domain.ErrInvalidStateTransition, line.LineID(), line.CurrentStatus())
		}
	}
	if matched == 0 && filter.LineID != "" {
		return domain.ErrLineNotFound
	}
	return nil
}

func (e *Engine) recompute(ctx context.Context, tx domain.Tx, transactionID string, now time.Time) (domain.TransactionStatus, error) {
	trx, err := tx.Transactions().Get(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if trx.Status != domain.TransactionStatusInProgress {
		return trx.Status, nil
	}
	for _, line := range trx.Lines() {
		if line.CurrentStatus() != domain.LineStatusSuccess {
			return trx.Status, nil
		}
	}

	ok, err := tx.Transactions().TransitionStatus(ctx, trx.ID, inProgressStatuses, domain.TransactionStatusSuccess, now)
	if err != nil {
		return "", err
	}
	if !ok {
		fresh, err := tx.Transactions().Get(ctx, trx.ID)
		if err != nil {
			return "", err
		}
		return fresh.Status, nil
	}
	if e.metrics != nil {
		e.metrics.RecordTransition(domain.AggregateTransaction, string(domain.TransactionStatusSuccess))
	}
	e.logger.WithField("transaction_id", trx.ID).Info("transaction completed")
	return domain.TransactionStatusSuccess, e.record(ctx, tx, transactionStatusChange(trx, trx.Status, domain.TransactionStatusSuccess, "all lines completed", now))
}

func (e *Engine) cancelPayments(ctx context.Context, tx domain.Tx, transactionID string, to domain.PaymentStatus, reason string, now time.Time) error {
	n, err := tx.Payments().TransitionByTransaction(ctx, transactionID, []domain.PaymentStatus{domain.PaymentStatusPending}, to, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordTransition(domain.AggregatePayment, string(to))
	}
	return e.record(ctx, tx, change{
		aggregateType: domain.AggregatePayment,
		aggregateID:   transactionID,
		eventType:     domain.EventPaymentStatusChanged,
		transactionID: transactionID,
		timelineType:  domain.TimelinePaymentStatus,
		reason:        reason,
		payload: map[string]any{
			"from":     string(domain.PaymentStatusPending),
			"status":   string(to),
			"affected": n,
		},
		at: now,
	})
}

func (e *Engine) cancelLines(ctx context.Context, tx domain.Tx, transactionID, reason string, now time.Time) error {
	filter := domain.LineFilter{TransactionID: transactionID}
	n, err := tx.Lines().TransitionStatus(ctx, filter, domain.NonTerminalLineStatuses, domain.LineStatusCancelled)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return e.record(ctx, tx, lineStatusChange(transactionID, filter, domain.LineStatusCancelled, n, reason, now))
}
