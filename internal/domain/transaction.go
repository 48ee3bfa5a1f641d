package domain

import (
	"fmt"
	"math"
	"time"
)

// TransactionStatus описывает жизненный цикл заказа (транзакции).
type TransactionStatus string

const (
	// TransactionStatusCreated — заказ оформлен, платёж ещё не создан.
	TransactionStatusCreated TransactionStatus = "created"
	// TransactionStatusPending — создан платёж, ждём оплату.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusInProgress — оплата получена, идёт активация и доставка.
	TransactionStatusInProgress TransactionStatus = "in_progress"
	// TransactionStatusSuccess — все позиции выполнены.
	TransactionStatusSuccess TransactionStatus = "success"
	// TransactionStatusCancelled — заказ отменён.
	TransactionStatusCancelled TransactionStatus = "cancelled"
	// TransactionStatusExpired — заказ не был оплачен вовремя.
	TransactionStatusExpired TransactionStatus = "expired"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusCancelled, TransactionStatusExpired:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusCreated, TransactionStatusPending, TransactionStatusInProgress,
		TransactionStatusSuccess, TransactionStatusCancelled, TransactionStatusExpired:
		return true
	default:
		return false
	}
}

// Currency — валюта транзакции.
type Currency string

const (
	CurrencyIDR Currency = "idr"
	CurrencyUSD Currency = "usd"
)

// Valid проверяет поддерживаемую валюту.
func (c Currency) Valid() bool {
	return c == CurrencyIDR || c == CurrencyUSD
}

// Transaction агрегирует заказ клиента, его суммы и позиции.
type Transaction struct {
	ID     string
	UserID string
	// Все суммы в минимальных денежных единицах.
	OriginalAmount     int64
	DiscountAmount     int64
	TotalAfterDiscount int64
	ServiceFeeAmount   int64
	FinalAmount        int64
	Status             TransactionStatus
	Currency           Currency
	VoucherID          string
	// ExpiresAt может быть нулевым: такая транзакция не истекает по времени.
	ExpiresAt time.Time
	Products  []ProductLine
	Addons    []AddonLine
	Whatsapp  *WhatsappLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lines возвращает все позиции транзакции в едином представлении.
func (t *Transaction) Lines() []Line {
	lines := make([]Line, 0, len(t.Products)+len(t.Addons)+1)
	for i := range t.Products {
		lines = append(lines, t.Products[i])
	}
	for i := range t.Addons {
		lines = append(lines, t.Addons[i])
	}
	if t.Whatsapp != nil {
		lines = append(lines, *t.Whatsapp)
	}
	return lines
}

// Type возвращает производный тип транзакции по составу позиций.
func (t *Transaction) Type() TransactionType {
	return ResolveTransactionType(len(t.Products) > 0, len(t.Addons) > 0, t.Whatsapp != nil)
}

// ApplyServiceFee фиксирует комиссию платёжного метода и пересчитывает итог.
func (t *Transaction) ApplyServiceFee(fee int64) error {
	if fee < 0 {
		return ErrAmountNegative
	}
	final, err := addAmount(t.TotalAfterDiscount, fee)
	if err != nil {
		return err
	}
	t.ServiceFeeAmount = fee
	t.FinalAmount = final
	return nil
}

// ValidateInvariants проверяет базовые инварианты транзакции и возвращает список замечаний.
func (t *Transaction) ValidateInvariants() []error {
	var errs []error

	if t.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if !t.Currency.Valid() {
		errs = append(errs, ErrCurrencyInvalid)
	}
	if len(t.Products) == 0 && len(t.Addons) == 0 && t.Whatsapp == nil {
		errs = append(errs, ErrLinesRequired)
	}
	if t.OriginalAmount < 0 || t.DiscountAmount < 0 || t.ServiceFeeAmount < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if t.DiscountAmount > t.OriginalAmount {
		errs = append(errs, ErrDiscountExceedsTotal)
	}
	if t.TotalAfterDiscount != t.OriginalAmount-t.DiscountAmount ||
		t.FinalAmount != t.TotalAfterDiscount+t.ServiceFeeAmount {
		errs = append(errs, ErrAmountMismatch)
	}

	for _, line := range t.Lines() {
		if err := line.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// LinesTotal считает сумму позиций по снапшоту цен.
// Возвращает ErrAmountOverflow, если сумма не помещается в int64.
func LinesTotal(products []ProductLine, addons []AddonLine, whatsapp *WhatsappLine) (int64, error) {
	var total int64
	add := func(quantity int32, price int64) error {
		amount, err := mulAmount(int64(quantity), price)
		if err != nil {
			return err
		}
		total, err = addAmount(total, amount)
		return err
	}
	for _, p := range products {
		if err := add(p.Quantity, p.UnitPrice); err != nil {
			return 0, fmt.Errorf("product line %s: %w", p.PackageID, err)
		}
	}
	for _, a := range addons {
		if err := add(a.Quantity, a.UnitPrice); err != nil {
			return 0, fmt.Errorf("addon line %s: %w", a.AddonID, err)
		}
	}
	if whatsapp != nil {
		if err := add(1, whatsapp.Price); err != nil {
			return 0, fmt.Errorf("whatsapp line %s: %w", whatsapp.PackageID, err)
		}
	}
	return total, nil
}

func mulAmount(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrAmountOverflow
	}
	return c, nil
}

func addAmount(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, ErrAmountOverflow
	}
	return c, nil
}
