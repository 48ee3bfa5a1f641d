package domain

import "time"

// LineKind различает виды позиций заказа.
type LineKind string

const (
	LineKindProduct  LineKind = "product"
	LineKindAddon    LineKind = "addon"
	LineKindWhatsapp LineKind = "whatsapp"
)

// Valid проверяет поддерживаемый вид позиции.
func (k LineKind) Valid() bool {
	switch k {
	case LineKindProduct, LineKindAddon, LineKindWhatsapp:
		return true
	default:
		return false
	}
}

// LineStatus описывает состояние отдельной позиции заказа.
type LineStatus string

const (
	LineStatusPending    LineStatus = "pending"
	LineStatusInProgress LineStatus = "in_progress"
	LineStatusSuccess    LineStatus = "success"
	LineStatusCancelled  LineStatus = "cancelled"
	// LineStatusFailed используется только для WhatsApp-позиции при сбое активации.
	LineStatusFailed LineStatus = "failed"
)

// Terminal сообщает, что статус позиции больше не меняется.
func (s LineStatus) Terminal() bool {
	switch s {
	case LineStatusSuccess, LineStatusCancelled, LineStatusFailed:
		return true
	default:
		return false
	}
}

// NonTerminalLineStatuses — статусы, из которых позиция может быть отменена.
var NonTerminalLineStatuses = []LineStatus{LineStatusPending, LineStatusInProgress}

// Duration — период WhatsApp-подписки.
type Duration string

const (
	DurationMonth Duration = "month"
	DurationYear  Duration = "year"
)

// Valid проверяет поддерживаемую длительность.
func (d Duration) Valid() bool {
	return d == DurationMonth || d == DurationYear
}

// AddTo прибавляет период к моменту времени по календарю.
func (d Duration) AddTo(t time.Time) time.Time {
	switch d {
	case DurationYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Line — общая часть трёх видов позиций. Набор реализаций закрыт.
type Line interface {
	LineID() string
	Kind() LineKind
	CurrentStatus() LineStatus
	Validate() error
	isLine()
}

// ProductLine — позиция с пакетом услуг (сайт, SEO, дизайн).
type ProductLine struct {
	ID            string
	TransactionID string
	PackageID     string
	Quantity      int32
	UnitPrice     int64
	Status        LineStatus
}

func (l ProductLine) LineID() string            { return l.ID }
func (l ProductLine) Kind() LineKind            { return LineKindProduct }
func (l ProductLine) CurrentStatus() LineStatus { return l.Status }
func (ProductLine) isLine()                     {}

// Validate проверяет поля товарной позиции.
func (l ProductLine) Validate() error {
	switch {
	case l.PackageID == "":
		return ErrLineRefRequired
	case l.Quantity <= 0:
		return ErrLineQtyInvalid
	case l.UnitPrice < 0:
		return ErrLinePriceInvalid
	}
	return nil
}

// AddonLine — дополнительная опция к заказу.
type AddonLine struct {
	ID            string
	TransactionID string
	AddonID       string
	Quantity      int32
	UnitPrice     int64
	Status        LineStatus
}

func (l AddonLine) LineID() string            { return l.ID }
func (l AddonLine) Kind() LineKind            { return LineKindAddon }
func (l AddonLine) CurrentStatus() LineStatus { return l.Status }
func (AddonLine) isLine()                     {}

// Validate проверяет поля позиции аддона.
func (l AddonLine) Validate() error {
	switch {
	case l.AddonID == "":
		return ErrLineRefRequired
	case l.Quantity <= 0:
		return ErrLineQtyInvalid
	case l.UnitPrice < 0:
		return ErrLinePriceInvalid
	}
	return nil
}

// WhatsappLine — подписка на WhatsApp API; в заказе не более одной.
type WhatsappLine struct {
	ID            string
	TransactionID string
	PackageID     string
	Duration      Duration
	Price         int64
	Status        LineStatus
}

func (l WhatsappLine) LineID() string            { return l.ID }
func (l WhatsappLine) Kind() LineKind            { return LineKindWhatsapp }
func (l WhatsappLine) CurrentStatus() LineStatus { return l.Status }
func (WhatsappLine) isLine()                     {}

// Validate проверяет поля WhatsApp-позиции.
func (l WhatsappLine) Validate() error {
	switch {
	case l.PackageID == "":
		return ErrLineRefRequired
	case !l.Duration.Valid():
		return ErrDurationInvalid
	case l.Price < 0:
		return ErrLinePriceInvalid
	}
	return nil
}

// LineFilter выбирает позиции транзакции для условного обновления.
// Пустой Kind означает все виды, пустой LineID — все позиции вида.
type LineFilter struct {
	TransactionID string
	Kind          LineKind
	LineID        string
}

// Matches проверяет, попадает ли позиция под фильтр.
func (f LineFilter) Matches(line Line) bool {
	if f.Kind != "" && line.Kind() != f.Kind {
		return false
	}
	if f.LineID != "" && line.LineID() != f.LineID {
		return false
	}
	return true
}
