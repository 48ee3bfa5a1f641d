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

// Причины, по которым новый платёж создать нельзя.
const (
	ReasonTransactionExpired   = "transaction expired"
	ReasonTransactionCancelled = "transaction cancelled"
	ReasonTransactionPaid      = "transaction already paid"
	ReasonPendingPayment       = "pending payment exists"
)

// Eligibility — ответ на вопрос, можно ли создать платёж.
type Eligibility struct {
	Allowed bool
	Reason  string
}

// CanCreatePaymentForTransaction проверяет, можно ли создать новый платёж.
// Перед проверкой применяет истечение сроков к транзакции и её платежу.
func (e *Engine) CanCreatePaymentForTransaction(ctx context.Context, transactionID string) (Eligibility, error) {
	if _, err := e.AutoExpire(ctx, Scope{TransactionID: transactionID}); err != nil {
		return Eligibility{}, err
	}

	var result Eligibility
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		latest, err := latestPayment(ctx, tx, trx.ID)
		if err != nil {
			return err
		}
		result = eligibility(trx, latest, e.now())
		return nil
	})
	return result, err
}

func eligibility(trx domain.Transaction, latest *domain.Payment, now time.Time) Eligibility {
	switch trx.Status {
	case domain.TransactionStatusExpired:
		return Eligibility{Reason: ReasonTransactionExpired}
	case domain.TransactionStatusCancelled:
		return Eligibility{Reason: ReasonTransactionCancelled}
	case domain.TransactionStatusInProgress, domain.TransactionStatusSuccess:
		return Eligibility{Reason: ReasonTransactionPaid}
	}
	if domain.TransactionExpired(trx, now) {
		return Eligibility{Reason: ReasonTransactionExpired}
	}
	if latest != nil && latest.Status == domain.PaymentStatusPending && !domain.PaymentExpired(*latest, now) {
		return Eligibility{Reason: ReasonPendingPayment}
	}
	return Eligibility{Allowed: true}
}

func latestPayment(ctx context.Context, tx domain.Tx, transactionID string) (*domain.Payment, error) {
	p, err := tx.Payments().Latest(ctx, transactionID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment создаёт pending-платёж со сроком PaymentTTL, фиксирует комиссию
// в транзакции и переводит её в pending.
func (e *Engine) CreatePayment(ctx context.Context, in CreatePaymentInput) (domain.Payment, error) {
	if err := e.validateInput(in); err != nil {
		return domain.Payment{}, err
	}
	if _, err := e.AutoExpire(ctx, Scope{TransactionID: in.TransactionID}); err != nil {
		return domain.Payment{}, err
	}

	var payment domain.Payment
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		latest, err := latestPayment(ctx, tx, trx.ID)
		if err != nil {
			return err
		}
		now := e.now()
		if elig := eligibility(trx, latest, now); !elig.Allowed {
			return fmt.Errorf("%w: %s", domain.ErrPaymentNotAllowed, elig.Reason)
		}

		if err := trx.ApplyServiceFee(in.ServiceFee); err != nil {
			return err
		}
		if err := tx.Transactions().UpdateAmounts(ctx, trx.ID, trx.ServiceFeeAmount, trx.FinalAmount, now); err != nil {
			return err
		}

		payment = domain.Payment{
			ID:            uuid.NewString(),
			TransactionID: trx.ID,
			Amount:        trx.FinalAmount,
			ServiceFee:    trx.ServiceFeeAmount,
			Method:        in.Method,
			Status:        domain.PaymentStatusPending,
			ExpiresAt:     domain.PaymentDeadline(now, trx.ExpiresAt),
			ExternalID:    in.ExternalID,
			PaymentURL:    in.PaymentURL,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if errs := payment.Validate(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return err
		}
		if err := e.record(ctx, tx, change{
			aggregateType: domain.AggregatePayment,
			aggregateID:   payment.ID,
			eventType:     domain.EventPaymentCreated,
			transactionID: trx.ID,
			timelineType:  domain.TimelinePaymentCreated,
			payload: map[string]any{
				"payment_id":  payment.ID,
				"method":      payment.Method,
				"amount":      payment.Amount,
				"service_fee": payment.ServiceFee,
				"expires_at":  payment.ExpiresAt.Format(time.RFC3339Nano),
			},
			at: now,
		}); err != nil {
			return err
		}

		return e.markPending(ctx, tx, trx, now)
	})
	if err != nil {
		e.logger.WithError(err).WithField("transaction_id", in.TransactionID).Warn("create payment failed")
		return domain.Payment{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordPaymentCreated()
	}
	e.logger.WithFields(log.Fields{
		"transaction_id": payment.TransactionID,
		"payment_id":     payment.ID,
		"method":         payment.Method,
	}).Info("payment created")
	return payment, nil
}

// UpdatePaymentStatus применяет решение шлюза или администратора к pending-платежу.
// Переход в paid переводит транзакцию в in_progress и запускает фоновую активацию.
// Повтор того же статуса возвращает платёж без изменений.
func (e *Engine) UpdatePaymentStatus(ctx context.Context, paymentID string, next domain.PaymentStatus, approval *domain.Approval) (domain.Payment, error) {
	if !next.Valid() || next == domain.PaymentStatusPending {
		return domain.Payment{}, fmt.Errorf("%w: payment -> %q", domain.ErrInvalidStateTransition, next)
	}
	if _, err := e.AutoExpire(ctx, Scope{PaymentID: paymentID}); err != nil {
		return domain.Payment{}, err
	}

	var (
		result  domain.Payment
		changed bool
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Payments().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == next {
			result = p
			return nil
		}
		if !p.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: payment %s -> %s", domain.ErrInvalidStateTransition, p.Status, next)
		}

		now := e.now()
		ok, err := tx.Payments().TransitionStatus(ctx, p.ID, []domain.PaymentStatus{domain.PaymentStatusPending}, next, approval, now)
		if err != nil {
			return err
		}
		if !ok {
			fresh, err := tx.Payments().Get(ctx, p.ID)
			if err != nil {
				return err
			}
			if fresh.Status == next {
				result = fresh
				return nil
			}
			return fmt.Errorf("%w: payment %s -> %s", domain.ErrInvalidStateTransition, fresh.Status, next)
		}
		changed = true

		reason := ""
		if approval != nil {
			reason = approval.Notes
		}
		if err := e.record(ctx, tx, paymentStatusChange(p, p.Status, next, reason, now)); err != nil {
			return err
		}

		trx, err := tx.Transactions().Get(ctx, p.TransactionID)
		if err != nil {
			return err
		}
		switch next {
		case domain.PaymentStatusPaid:
			if err := e.markInProgress(ctx, tx, trx, now); err != nil {
				return err
			}
		case domain.PaymentStatusExpired:
			if _, err := e.expireTransaction(ctx, tx, trx, "payment expired", now); err != nil {
				return err
			}
		}

		result, err = tx.Payments().Get(ctx, p.ID)
		return err
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"payment_id": paymentID,
			"status":     next,
		}).Warn("update payment status failed")
		return domain.Payment{}, err
	}

	if changed {
		if e.metrics != nil {
			e.metrics.RecordTransition(domain.AggregatePayment, string(next))
		}
		e.logger.WithFields(log.Fields{
			"transaction_id": result.TransactionID,
			"payment_id":     result.ID,
			"status":         result.Status,
		}).Info("payment status updated")
	}
	if result.Status == domain.PaymentStatusPaid {
		e.DispatchActivation(result.TransactionID)
	}
	return result, nil
}

// HandleGatewayCallback находит платёж по идентификатору шлюза и применяет статус.
func (e *Engine) HandleGatewayCallback(ctx context.Context, externalID string, next domain.PaymentStatus) (domain.Payment, error) {
	var paymentID string
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Payments().GetByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		paymentID = p.ID
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return e.UpdatePaymentStatus(ctx, paymentID, next, nil)
}

// ReviewPayment — ручное подтверждение (paid) или отклонение (failed) платежа администратором.
func (e *Engine) ReviewPayment(ctx context.Context, paymentID string, approve bool, approval domain.Approval) (domain.Payment, error) {
	if approval.AdminUserID == "" {
		return domain.Payment{}, fmt.Errorf("%w: admin user is required", domain.ErrInvalidInput)
	}
	next := domain.PaymentStatusFailed
	if approve {
		next = domain.PaymentStatusPaid
	}
	return e.UpdatePaymentStatus(ctx, paymentID, next, &approval)
}
