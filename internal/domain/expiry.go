package domain

import "time"

const (
	// PaymentTTL — сколько живёт неоплаченный платёж.
	PaymentTTL = 24 * time.Hour
	// TransactionTTL — сколько живёт неоплаченная транзакция.
	TransactionTTL = 7 * 24 * time.Hour
)

// Clock отдаёт текущее время; подменяется в тестах.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает реальное время в UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PaymentExpiresAt вычисляет срок жизни нового платежа.
func PaymentExpiresAt(now time.Time) time.Time {
	return now.Add(PaymentTTL)
}

// PaymentDeadline — срок платежа, не выходящий за срок его транзакции.
// Нулевой transactionExpiresAt означает транзакцию без срока.
func PaymentDeadline(now, transactionExpiresAt time.Time) time.Time {
	deadline := PaymentExpiresAt(now)
	if !transactionExpiresAt.IsZero() && transactionExpiresAt.Before(deadline) {
		return transactionExpiresAt
	}
	return deadline
}

// TransactionExpiresAt вычисляет срок жизни новой транзакции.
func TransactionExpiresAt(now time.Time) time.Time {
	return now.Add(TransactionTTL)
}

// PaymentExpired: платёж ещё pending, а срок строго в прошлом.
func PaymentExpired(p Payment, now time.Time) bool {
	return p.Status == PaymentStatusPending && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// TransactionExpired: транзакция не оплачена, а срок строго в прошлом.
func TransactionExpired(t Transaction, now time.Time) bool {
	if t.Status != TransactionStatusCreated && t.Status != TransactionStatusPending {
		return false
	}
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
