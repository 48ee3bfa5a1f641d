package domain

import "time"

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан, ждём подтверждения шлюза или администратора.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — шлюз отклонил платёж или администратор отказал.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusExpired — платёж не был оплачен до ExpiresAt.
	PaymentStatusExpired PaymentStatus = "expired"
	// PaymentStatusCancelled — платёж отменён вместе с транзакцией.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusExpired, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s PaymentStatus) Terminal() bool {
	return s.Valid() && s != PaymentStatusPending
}

// CanTransitionTo проверяет допустимость перехода платежа.
// Повтор текущего статуса переходом не считается.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.Valid() && next != PaymentStatusPending
}

// Approval — данные ручного подтверждения или отклонения платежа.
type Approval struct {
	AdminUserID string
	Notes       string
}

// Payment описывает платёж, связанный с транзакцией.
type Payment struct {
	ID            string
	TransactionID string
	Amount        int64
	ServiceFee    int64
	Method        string
	Status        PaymentStatus
	ExpiresAt     time.Time
	ExternalID    string // Пустой для ручных методов оплаты.
	PaymentURL    string
	AdminNotes    string
	AdminUserID   string
	ActionDate    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	switch {
	case p.TransactionID == "":
		errs = append(errs, ErrTransactionIDRequired)
	case p.Method == "":
		errs = append(errs, ErrPaymentMethodRequired)
	case p.Amount < 0 || p.ServiceFee < 0:
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}
