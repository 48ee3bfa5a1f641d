package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// Причины холостого запуска активации. Это ожидаемые исходы гонок, а не ошибки.
const (
	ReasonNotPaid          = "not paid"
	ReasonAlreadyActivated = "already activated"
	ReasonNotInProgress    = "transaction not in progress"
	ReasonActivationFailed = "activation failed"
)

var failedLines = []domain.LineStatus{domain.LineStatusFailed}

// ActivationResult — итог ActivateServicesAfterPaymentUpdate. Activated и Failed
// считают WhatsApp-позиции, обработанные именно этим вызовом.
type ActivationResult struct {
	Success   bool
	Reason    string
	Activated int
	Failed    int
	Status    domain.TransactionStatus
}

// ActivateServicesAfterPaymentUpdate выполняет активацию услуг оплаченной транзакции
// не более одного раза. WhatsApp-позиция захватывается условным переходом в success
// в той же транзакции хранилища, что и продление подписки, поэтому конкурентный
// вызов не находит подходящих позиций и завершается холостым результатом.
func (e *Engine) ActivateServicesAfterPaymentUpdate(ctx context.Context, transactionID string) (ActivationResult, error) {
	start := time.Now()
	result, err := e.activate(ctx, transactionID)
	if e.metrics != nil {
		outcome := metrics.ActivationActivated
		switch {
		case err != nil || result.Failed > 0:
			outcome = metrics.ActivationFailed
		case !result.Success:
			outcome = metrics.ActivationNoop
		}
		e.metrics.RecordActivation(outcome, time.Since(start))
	}
	return result, err
}

func (e *Engine) activate(ctx context.Context, transactionID string) (ActivationResult, error) {
	var (
		trx    domain.Transaction
		result ActivationResult
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		trx, err = tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		latest, err := latestPayment(ctx, tx, trx.ID)
		if err != nil {
			return err
		}
		switch {
		case latest == nil || latest.Status != domain.PaymentStatusPaid:
			result = ActivationResult{Reason: ReasonNotPaid, Status: trx.Status}
		case trx.Status == domain.TransactionStatusSuccess:
			result = ActivationResult{Reason: ReasonAlreadyActivated, Status: trx.Status}
		case trx.Status != domain.TransactionStatusInProgress:
			result = ActivationResult{Reason: ReasonNotInProgress, Status: trx.Status}
		}
		return nil
	})
	if err != nil {
		return ActivationResult{}, err
	}
	if result.Reason != "" {
		return result, nil
	}

	logger := e.logger.WithField("transaction_id", trx.ID)

	if wa := trx.Whatsapp; wa != nil && !wa.Status.Terminal() {
		claimed, extErr := e.activateWhatsapp(ctx, trx, *wa)
		switch {
		case extErr != nil && errors.Is(extErr, domain.ErrSubscriptionExtensionFailed):
			logger.WithError(extErr).WithField("line_id", wa.ID).Error("whatsapp activation failed")
			if err := e.failWhatsapp(ctx, trx, *wa, extErr); err != nil {
				return ActivationResult{}, err
			}
			result.Failed++
		case extErr != nil:
			return ActivationResult{}, extErr
		case claimed:
			result.Activated++
		}
	}

	status, err := e.RecomputeAggregate(ctx, trx.ID)
	if err != nil {
		return ActivationResult{}, err
	}
	result.Status = status

	if result.Activated == 0 && result.Failed == 0 && trx.Whatsapp != nil {
		result.Reason = ReasonAlreadyActivated
		if trx.Whatsapp.Status == domain.LineStatusFailed {
			result.Reason = ReasonActivationFailed
		}
		return result, nil
	}
	result.Success = result.Failed == 0
	logger.WithFields(log.Fields{
		"activated": result.Activated,
		"failed":    result.Failed,
		"status":    status,
	}).Info("services activated")
	return result, nil
}

// RetryActivation — ручной повтор активации после сбоя продления. WhatsApp-позиция
// условно переводится failed -> in_progress, затем активация выполняется синхронно.
// Позиция в любом другом статусе даёт ErrInvalidStateTransition.
func (e *Engine) RetryActivation(ctx context.Context, transactionID, reason string) (ActivationResult, error) {
	if reason == "" {
		reason = "activation retried"
	}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if trx.Status != domain.TransactionStatusInProgress {
			return fmt.Errorf("%w: cannot retry activation of %s transaction", domain.ErrInvalidStateTransition, trx.Status)
		}
		if trx.Whatsapp == nil {
			return fmt.Errorf("%w: transaction has no whatsapp line", domain.ErrInvalidStateTransition)
		}

		filter := domain.LineFilter{TransactionID: trx.ID, Kind: domain.LineKindWhatsapp, LineID: trx.Whatsapp.ID}
		n, err := tx.Lines().TransitionStatus(ctx, filter, failedLines, domain.LineStatusInProgress)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: whatsapp line %s is %s", domain.ErrInvalidStateTransition, trx.Whatsapp.ID, trx.Whatsapp.Status)
		}
		if e.metrics != nil {
			e.metrics.RecordTransition("line", string(domain.LineStatusInProgress))
		}
		return e.record(ctx, tx, lineStatusChange(trx.ID, filter, domain.LineStatusInProgress, n, reason, e.now()))
	})
	if err != nil {
		return ActivationResult{}, err
	}

	e.logger.WithFields(log.Fields{
		"transaction_id": transactionID,
		"reason":         reason,
	}).Warn("whatsapp activation retried")
	return e.ActivateServicesAfterPaymentUpdate(ctx, transactionID)
}

// activateWhatsapp захватывает позицию и продлевает подписку атомарно.
// false без ошибки: позицию уже обработал другой вызов.
func (e *Engine) activateWhatsapp(ctx context.Context, trx domain.Transaction, wa domain.WhatsappLine) (bool, error) {
	var claimed bool
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		filter := domain.LineFilter{TransactionID: trx.ID, Kind: domain.LineKindWhatsapp, LineID: wa.ID}
		n, err := tx.Lines().TransitionStatus(ctx, filter, domain.NonTerminalLineStatuses, domain.LineStatusSuccess)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		now := e.now()
		sub, err := e.extender.ExtendOrCreate(ctx, tx.Subscriptions(), trx.UserID, wa.PackageID, wa.Duration)
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordExtension(false)
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordExtension(true)
			e.metrics.RecordTransition("line", string(domain.LineStatusSuccess))
		}

		if err := e.record(ctx, tx, lineStatusChange(trx.ID, filter, domain.LineStatusSuccess, n, "subscription activated", now)); err != nil {
			return err
		}
		if err := e.record(ctx, tx, change{
			aggregateType: domain.AggregateTransaction,
			aggregateID:   trx.ID,
			eventType:     domain.EventSubscriptionExtended,
			transactionID: trx.ID,
			timelineType:  domain.TimelineSubscriptionExtended,
			payload: map[string]any{
				"customer_id": sub.CustomerID,
				"package_id":  sub.PackageID,
				"duration":    string(wa.Duration),
				"expired_at":  sub.ExpiredAt.Format(time.RFC3339Nano),
			},
			at: now,
		}); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// failWhatsapp фиксирует сбой продления отдельной транзакцией: платёж и
// транзакция остаются paid/in_progress для ручного разбора.
func (e *Engine) failWhatsapp(ctx context.Context, trx domain.Transaction, wa domain.WhatsappLine, cause error) error {
	return e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		filter := domain.LineFilter{TransactionID: trx.ID, Kind: domain.LineKindWhatsapp, LineID: wa.ID}
		n, err := tx.Lines().TransitionStatus(ctx, filter, domain.NonTerminalLineStatuses, domain.LineStatusFailed)
		if err != nil || n == 0 {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordTransition("line", string(domain.LineStatusFailed))
		}
		now := e.now()
		if err := e.record(ctx, tx, lineStatusChange(trx.ID, filter, domain.LineStatusFailed, n, cause.Error(), now)); err != nil {
			return err
		}
		return e.record(ctx, tx, change{
			aggregateType: domain.AggregateTransaction,
			aggregateID:   trx.ID,
			eventType:     domain.EventActivationFailed,
			transactionID: trx.ID,
			timelineType:  domain.TimelineActivationFailed,
			reason:        cause.Error(),
			payload: map[string]any{
				"line_id":    wa.ID,
				"package_id": wa.PackageID,
			},
			at: now,
		})
	})
}

// DispatchActivation запускает активацию в фоне; вызывающий не ждёт результата.
// После Shutdown новые запуски пропускаются.
func (e *Engine) DispatchActivation(transactionID string) {
	e.activationMu.Lock()
	if e.activationClosed {
		e.activationMu.Unlock()
		e.logger.WithField("transaction_id", transactionID).Warn("activation dispatch skipped during shutdown")
		return
	}
	e.activationWG.Add(1)
	e.activationMu.Unlock()

	if e.metrics != nil {
		e.metrics.ActivationStarted()
	}
	go func() {
		defer e.activationWG.Done()
		if e.metrics != nil {
			defer e.metrics.ActivationFinished()
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.activationTimeout)
		defer cancel()

		result, err := e.ActivateServicesAfterPaymentUpdate(ctx, transactionID)
		logger := e.logger.WithField("transaction_id", transactionID)
		if err != nil {
			logger.WithError(err).Error("background activation failed")
			return
		}
		if result.Reason != "" {
			logger.WithField("reason", result.Reason).Debug("activation skipped")
		}
	}()
}
