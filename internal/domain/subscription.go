package domain

import "time"

// ServiceSubscription — подписка клиента на WhatsApp-пакет.
type ServiceSubscription struct {
	CustomerID string
	PackageID  string
	ExpiredAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ActiveAt сообщает, действует ли подписка в момент now.
func (s ServiceSubscription) ActiveAt(now time.Time) bool {
	return s.ExpiredAt.After(now)
}
