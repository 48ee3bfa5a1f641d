package domain

import "errors"

var (
	// Ошибка отсутствующего владельца транзакции.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка неподдерживаемой валюты.
	ErrCurrencyInvalid = errors.New("currency must be idr or usd")
	// Ошибка пустой корзины.
	ErrLinesRequired = errors.New("transaction must contain at least one line")
	// Ошибка повторной WhatsApp-позиции: допускается не более одной.
	ErrWhatsappLineDuplicate = errors.New("transaction may contain at most one whatsapp line")
	// Ошибка некорректного количества в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка отсутствующего идентификатора пакета или аддона.
	ErrLineRefRequired = errors.New("line package_id or addon_id is required")
	// Ошибка неизвестной длительности подписки.
	ErrDurationInvalid = errors.New("duration must be month or year")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка скидки, превышающей сумму заказа.
	ErrDiscountExceedsTotal = errors.New("discount exceeds original amount")
	// Ошибка рассогласования итоговой суммы и её составляющих.
	ErrAmountMismatch = errors.New("final amount does not match total after discount plus service fee")
	// Ошибка суммы, вышедшей за пределы int64.
	ErrAmountOverflow = errors.New("amount exceeds supported range")
	// Ошибка отсутствующего способа оплаты.
	ErrPaymentMethodRequired = errors.New("payment method is required")
	// Ошибка отсутствующего идентификатора транзакции.
	ErrTransactionIDRequired = errors.New("transaction_id is required")
	// Ошибка входных данных, не попавшая под более точную категорию.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransactionNotFound возвращается, если транзакция не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDeliveryNotFound возвращается, если запись доставки не найдена.
	ErrDeliveryNotFound = errors.New("delivery record not found")
	// ErrLineNotFound возвращается, если позиция не найдена.
	ErrLineNotFound = errors.New("line not found")
	// ErrSubscriptionNotFound возвращается, если подписка клиента на пакет отсутствует.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrAlreadyExists сигнализирует о дубликате первичного ключа.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidStateTransition — переход запрещён машиной состояний.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPaymentNotAllowed — для транзакции нельзя создать новый платёж.
	ErrPaymentNotAllowed = errors.New("payment creation is not allowed for transaction")
	// ErrPendingPaymentExists — у транзакции уже есть незавершённый платёж.
	ErrPendingPaymentExists = errors.New("transaction already has a pending payment")
	// ErrSubscriptionExtensionFailed — не удалось продлить или создать подписку.
	ErrSubscriptionExtensionFailed = errors.New("subscription extension failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrDeliveryNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsValidation проверяет, что ошибка вызвана некорректными входными данными.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var validationErrors = []error{
	ErrUserRequired,
	ErrCurrencyInvalid,
	ErrLinesRequired,
	ErrWhatsappLineDuplicate,
	ErrLineQtyInvalid,
	ErrLinePriceInvalid,
	ErrLineRefRequired,
	ErrDurationInvalid,
	ErrAmountNegative,
	ErrDiscountExceedsTotal,
	ErrAmountMismatch,
	ErrAmountOverflow,
	ErrPaymentMethodRequired,
	ErrTransactionIDRequired,
	ErrInvalidInput,
}
