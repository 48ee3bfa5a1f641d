package domain

import "time"

// Типы событий таймлайна транзакции.
const (
	TimelineTransactionCreated   = "transaction_created"
	TimelinePaymentCreated       = "payment_created"
	TimelinePaymentStatus        = "payment_status_changed"
	TimelineTransactionStatus    = "transaction_status_changed"
	TimelineLineStatus           = "line_status_changed"
	TimelineDeliveryCreated      = "delivery_created"
	TimelineDeliveryStatus       = "delivery_status_changed"
	TimelineSubscriptionExtended = "subscription_extended"
	TimelineActivationFailed     = "activation_failed"
)

// TimelineEvent описывает событие в жизненном цикле транзакции.
type TimelineEvent struct {
	TransactionID string
	Type          string
	Reason        string
	Occurred      time.Time
}
