// Package api содержит JSON-представления сущностей, общие для gRPC и HTTP.
package api

import (
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

// ProductLine — товарная позиция в ответах API.
type ProductLine struct {
	ID        string `json:"id"`
	PackageID string `json:"package_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Status    string `json:"status,omitempty"`
}

// AddonLine — позиция аддона в ответах API.
type AddonLine struct {
	ID        string `json:"id"`
	AddonID   string `json:"addon_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Status    string `json:"status,omitempty"`
}

// WhatsappLine — WhatsApp-позиция в ответах API.
type WhatsappLine struct {
	ID        string `json:"id"`
	PackageID string `json:"package_id"`
	Duration  string `json:"duration"`
	Price     int64  `json:"price"`
	Status    string `json:"status,omitempty"`
}

// Transaction — заказ в ответах API.
type Transaction struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	Type               string        `json:"type"`
	Status             string        `json:"status"`
	Currency           string        `json:"currency"`
	VoucherID          string        `json:"voucher_id,omitempty"`
	OriginalAmount     int64         `json:"original_amount"`
	DiscountAmount     int64         `json:"discount_amount"`
	TotalAfterDiscount int64         `json:"total_after_discount"`
	ServiceFeeAmount   int64         `json:"service_fee_amount"`
	FinalAmount        int64         `json:"final_amount"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty"`
	Products           []ProductLine `json:"products,omitempty"`
	Addons             []AddonLine   `json:"addons,omitempty"`
	Whatsapp           *WhatsappLine `json:"whatsapp,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Payment — платёж в ответах API.
type Payment struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Amount        int64      `json:"amount"`
	ServiceFee    int64      `json:"service_fee"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	ExternalID    string     `json:"external_id,omitempty"`
	PaymentURL    string     `json:"payment_url,omitempty"`
	AdminUserID   string     `json:"admin_user_id,omitempty"`
	AdminNotes    string     `json:"admin_notes,omitempty"`
	ActionDate    *time.Time `json:"action_date,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Delivery — запись доставки в ответах API.
type Delivery struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Kind          string    `json:"kind"`
	PackageID     string    `json:"package_id,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TimelineEvent — событие аудита транзакции.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// TransactionView — представление заказа для клиента или администратора.
type TransactionView struct {
	Transaction Transaction     `json:"transaction"`
	Payment     *Payment        `json:"payment,omitempty"`
	Whatsapp    string          `json:"whatsapp_activation"`
	Deliveries  []Delivery      `json:"deliveries,omitempty"`
	Timeline    []TimelineEvent `json:"timeline,omitempty"`
}

// FromTransaction переводит доменную транзакцию в JSON-представление.
func FromTransaction(trx domain.Transaction) Transaction {
	out := Transaction{
		ID:                 trx.ID,
		UserID:             trx.UserID,
		Type:               string(trx.Type()),
		Status:             string(trx.Status),
		Currency:           string(trx.Currency),
		VoucherID:          trx.VoucherID,
		OriginalAmount:     trx.OriginalAmount,
		DiscountAmount:     trx.DiscountAmount,
		TotalAfterDiscount: trx.TotalAfterDiscount,
		ServiceFeeAmount:   trx.ServiceFeeAmount,
		FinalAmount:        trx.FinalAmount,
		ExpiresAt:          optionalTime(trx.ExpiresAt),
		CreatedAt:          trx.CreatedAt,
		UpdatedAt:          trx.UpdatedAt,
	}
	for _, p := range trx.Products {
		out.Products = append(out.Products, ProductLine{
			ID: p.ID, PackageID: p.PackageID, Quantity: p.Quantity, UnitPrice: p.UnitPrice, Status: string(p.Status),
		})
	}
	for _, a := range trx.Addons {
		out.Addons = append(out.Addons, AddonLine{
			ID: a.ID, AddonID: a.AddonID, Quantity: a.Quantity, UnitPrice: a.UnitPrice, Status: string(a.Status),
		})
	}
	if wa := trx.Whatsapp; wa != nil {
		out.Whatsapp = &WhatsappLine{
			ID: wa.ID, PackageID: wa.PackageID, Duration: string(wa.Duration), Price: wa.Price, Status: string(wa.Status),
		}
	}
	return out
}

// FromPayment переводит платёж в JSON-представление.
func FromPayment(p domain.Payment) Payment {
	return Payment{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		ServiceFee:    p.ServiceFee,
		Method:        p.Method,
		Status:        string(p.Status),
		ExternalID:    p.ExternalID,
		PaymentURL:    p.PaymentURL,
		AdminUserID:   p.AdminUserID,
		AdminNotes:    p.AdminNotes,
		ActionDate:    optionalTime(p.ActionDate),
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func FromDelivery(rec domain.DeliveryRecord) Delivery {
	return Delivery{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		CustomerID:    rec.CustomerID,
		Kind:          string(rec.Kind),
		PackageID:     rec.PackageID,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func FromDeliveries(records []domain.DeliveryRecord) []Delivery {
	out := make([]Delivery, 0, len(records))
	for _, rec := range records {
		out = append(out, FromDelivery(rec))
	}
	return out
}

// FromView собирает представление заказа.
func FromView(view lifecycle.TransactionView) TransactionView {
	resp := TransactionView{
		Transaction: FromTransaction(view.Transaction),
		Whatsapp:    string(view.Whatsapp),
	}
	if view.Payment != nil {
		p := FromPayment(*view.Payment)
		resp.Payment = &p
	}
	if len(view.Deliveries) > 0 {
		resp.Deliveries = FromDeliveries(view.Deliveries)
	}
	for _, ev := range view.Timeline {
		resp.Timeline = append(resp.Timeline, TimelineEvent{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
