package lifecycle

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Scope ограничивает AutoExpire одной транзакцией и/или одним платежом.
// Пустой Scope означает пакетный проход по всем просроченным записям.
type Scope struct {
	TransactionID string
	PaymentID     string
}

// Empty сообщает, что область не задана.
func (s Scope) Empty() bool {
	return s.TransactionID == "" && s.PaymentID == ""
}

// ExpireResult — сколько записей было переведено в expired.
type ExpireResult struct {
	Payments     int
	Transactions int
}

func (r *ExpireResult) add(other ExpireResult) {
	r.Payments += other.Payments
	r.Transactions += other.Transactions
}

// AutoExpire применяет истечение сроков. Повторный и конкурентный вызов безопасен:
// уже истёкшие записи не меняются и ошибкой не считаются.
func (e *Engine) AutoExpire(ctx context.Context, scope Scope) (ExpireResult, error) {
	var (
		result ExpireResult
		err    error
	)
	if scope.Empty() {
		result, err = e.sweep(ctx)
	} else {
		err = e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			var txErr error
			result, txErr = e.expireScoped(ctx, tx, scope, e.now())
			return txErr
		})
	}
	if err != nil {
		return ExpireResult{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordExpired(domain.AggregatePayment, result.Payments)
		e.metrics.RecordExpired(domain.AggregateTransaction, result.Transactions)
	}
	if result.Payments > 0 || result.Transactions > 0 {
		e.logger.WithFields(log.Fields{
			"transaction_id":       scope.TransactionID,
			"payment_id":           scope.PaymentID,
			"expired_payments":     result.Payments,
			"expired_transactions": result.Transactions,
		}).Info("expired records")
	}
	return result, nil
}

func (e *Engine) expireScoped(ctx context.Context, tx domain.Tx, scope Scope, now time.Time) (ExpireResult, error) {
	var result ExpireResult

	if scope.PaymentID != "" {
		p, err := tx.Payments().Get(ctx, scope.PaymentID)
		if err != nil {
			return result, err
		}
		r, err := e.expirePayment(ctx, tx, p, now)
		if err != nil {
			return result, err
		}
		result.add(r)
	}

	if scope.TransactionID != "" {
		trx, err := tx.Transactions().Get(ctx, scope.TransactionID)
		if err != nil {
			return result, err
		}
		latest, err := latestPayment(ctx, tx, trx.ID)
		if err != nil {
			return result, err
		}
		if latest != nil && latest.ID != scope.PaymentID {
			r, err := e.expirePayment(ctx, tx, *latest, now)
			if err != nil {
				return result, err
			}
			result.add(r)
		}

		// Статус мог измениться каскадом от платежа.
		trx, err = tx.Transactions().Get(ctx, trx.ID)
		if err != nil {
			return result, err
		}
		if domain.TransactionExpired(trx, now) {
			expired, err := e.expireTransaction(ctx, tx, trx, "transaction expired", now)
			if err != nil {
				return result, err
			}
			if expired {
				result.Transactions++
			}
		}
	}

	return result, nil
}

// expirePayment переводит просроченный pending-платёж в expired. Неоплаченная
// транзакция этого платежа истекает вместе с ним.
func (e *Engine) expirePayment(ctx context.Context, tx domain.Tx, p domain.Payment, now time.Time) (ExpireResult, error) {
	var result ExpireResult
	if !domain.PaymentExpired(p, now) {
		return result, nil
	}

	ok, err := tx.Payments().TransitionStatus(ctx, p.ID, []domain.PaymentStatus{domain.PaymentStatusPending}, domain.PaymentStatusExpired, nil, now)
	if err != nil || !ok {
		return result, err
	}
	result.Payments++
	if err := e.record(ctx, tx, paymentStatusChange(p, p.Status, domain.PaymentStatusExpired, "payment expired", now)); err != nil {
		return result, err
	}

	trx, err := tx.Transactions().Get(ctx, p.TransactionID)
	if err != nil {
		return result, err
	}
	expired, err := e.expireTransaction(ctx, tx, trx, "payment expired", now)
	if err != nil {
		return result, err
	}
	if expired {
		result.Transactions++
	}
	return result, nil
}

// expireTransaction переводит неоплаченную транзакцию в expired, её pending-платёж
// в expired, а позиции в cancelled. Проигравший гонку писатель получает false.
func (e *Engine) expireTransaction(ctx context.Context, tx domain.Tx, trx domain.Transaction, reason string, now time.Time) (bool, error) {
	if trx.Status != domain.TransactionStatusCreated && trx.Status != domain.TransactionStatusPending {
		return false, nil
	}

	ok, err := tx.Transactions().TransitionStatus(ctx, trx.ID, unpaidStatuses, domain.TransactionStatusExpired, now)
	if err != nil || !ok {
		return false, err
	}
	if err := e.record(ctx, tx, transactionStatusChange(trx, trx.Status, domain.TransactionStatusExpired, reason, now)); err != nil {
		return false, err
	}
	if err := e.cancelPayments(ctx, tx, trx.ID, domain.PaymentStatusExpired, reason, now); err != nil {
		return false, err
	}
	if err := e.cancelLines(ctx, tx, trx.ID, reason, now); err != nil {
		return false, err
	}
	return true, nil
}

// sweep — пакетный режим: каждый кандидат истекает в собственной транзакции,
// ошибка одной записи не останавливает остальные.
func (e *Engine) sweep(ctx context.Context) (ExpireResult, error) {
	var (
		result   ExpireResult
		payments []domain.Payment
		trxIDs   []string
	)
	now := e.now()

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		payments, err = tx.Payments().ListExpirable(ctx, now, e.sweepBatchSize)
		if err != nil {
			return err
		}
		trxIDs, err = tx.Transactions().ListExpirable(ctx, now, e.sweepBatchSize)
		return err
	})
	if err != nil {
		return result, err
	}

	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r, err := e.sweepOne(ctx, Scope{PaymentID: p.ID}, now)
		if err != nil {
			continue
		}
		result.add(r)
	}
	for _, id := range trxIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r, err := e.sweepOne(ctx, Scope{TransactionID: id}, now)
		if err != nil {
			continue
		}
		result.add(r)
	}
	return result, nil
}

func (e *Engine) sweepOne(ctx context.Context, scope Scope, now time.Time) (ExpireResult, error) {
	var result ExpireResult
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		result, err = e.expireScoped(ctx, tx, scope, now)
		return err
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"transaction_id": scope.TransactionID,
			"payment_id":     scope.PaymentID,
		}).Warn("expire record failed")
	}
	return result, err
}
