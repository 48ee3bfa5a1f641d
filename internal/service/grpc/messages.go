package grpcsvc

import (
	"github.com/vladislavdragonenkov/orderflow/internal/api"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

type CreateTransactionRequest struct {
	lifecycle.CreateTransactionInput
}

type TransactionResponse struct {
	Transaction api.Transaction `json:"transaction"`
}

type GetTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Admin         bool   `json:"admin,omitempty"`
}

type TransactionViewResponse struct {
	api.TransactionView
}

type ListTransactionsRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []api.Transaction `json:"transactions"`
}

type CancelTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

type CanCreatePaymentRequest struct {
	TransactionID string `json:"transaction_id"`
}

type CanCreatePaymentResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type CreatePaymentRequest struct {
	lifecycle.CreatePaymentInput
}

type PaymentResponse struct {
	Payment api.Payment `json:"payment"`
}

type UpdatePaymentStatusRequest struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	AdminUserID string `json:"admin_user_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type ReviewPaymentRequest struct {
	PaymentID   string `json:"payment_id"`
	Approve     bool   `json:"approve"`
	AdminUserID string `json:"admin_user_id"`
	Notes       string `json:"notes,omitempty"`
}

type ActivateServicesRequest struct {
	TransactionID string `json:"transaction_id"`
}

type ActivateServicesResponse struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Activated int    `json:"activated"`
	Failed    int    `json:"failed"`
	Status    string `json:"status,omitempty"`
}

type RetryActivationRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

type UpdateDeliveryStatusRequest struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
}

type DeliveryResponse struct {
	Delivery api.Delivery `json:"delivery"`
}

type ListDeliveriesRequest struct {
	TransactionID string `json:"transaction_id"`
}

type ListDeliveriesResponse struct {
	Deliveries []api.Delivery `json:"deliveries"`
}

type MarkLineSuccessRequest struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	LineID        string `json:"line_id,omitempty"`
}

type MarkLineSuccessResponse struct {
	Status string `json:"status"`
}

// SweepExpiredRequest с пустыми полями запускает пакетный проход.
type SweepExpiredRequest struct {
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
}

type SweepExpiredResponse struct {
	Payments     int `json:"payments"`
	Transactions int `json:"transactions"`
}

