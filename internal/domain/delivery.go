package domain

import "time"

// DeliveryStatus описывает ход выполнения поставки.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusInProgress DeliveryStatus = "in_progress"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
)

// Valid проверяет поддерживаемый статус доставки.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusInProgress, DeliveryStatusDelivered:
		return true
	default:
		return false
	}
}

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryStatusPending:
		return 0
	case DeliveryStatusInProgress:
		return 1
	case DeliveryStatusDelivered:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo разрешает только движение вперёд.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	return next.Valid() && s.rank() >= 0 && next.rank() > s.rank()
}

// DeliveryKind — что именно доставляется.
type DeliveryKind string

const (
	// DeliveryKindProduct — одна запись на товарную позицию.
	DeliveryKindProduct DeliveryKind = "product"
	// DeliveryKindAddon — одна сводная запись на все аддоны транзакции.
	DeliveryKindAddon DeliveryKind = "addon"
)

// DeliveryRecord — задача на выполнение оплаченной позиции.
// Уникальна по (TransactionID, Kind, PackageID); у сводной записи аддонов PackageID пустой.
type DeliveryRecord struct {
	ID            string
	TransactionID string
	CustomerID    string
	Kind          DeliveryKind
	PackageID     string
	Status        DeliveryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
