package httpapi

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/api"
	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

// Handler держит зависимости HTTP-обработчиков.
type Handler struct {
	engine Lifecycle
	logger *log.Entry
}

// NewHandler создаёт обработчики.
func NewHandler(engine Lifecycle, logger *log.Entry) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// GetTransaction — клиентский экран статуса заказа.
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	h.view(c, lifecycle.AudienceCustomer)
}

// GetTransactionAdmin — детали заказа для администратора.
// GET /api/v1/admin/transactions/:id
func (h *Handler) GetTransactionAdmin(c *gin.Context) {
	h.view(c, lifecycle.AudienceAdmin)
}

func (h *Handler) view(c *gin.Context, audience lifecycle.Audience) {
	view, err := h.engine.GetTransactionView(c.Request.Context(), c.Param("id"), audience)
	if err != nil {
		h.fail(c, err, "get transaction")
		return
	}
	success(c, api.FromView(view))
}

// ListTransactions — история заказов клиента.
// GET /api/v1/transactions?user_id=xxx&limit=20
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			paramError(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := h.engine.ListTransactions(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		h.fail(c, err, "list transactions")
		return
	}
	out := make([]api.Transaction, 0, len(list))
	for _, trx := range list {
		out = append(out, api.FromTransaction(trx))
	}
	success(c, gin.H{"transactions": out})
}

// PaymentWebhookRequest — уведомление платёжного шлюза.
type PaymentWebhookRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Status     string `json:"status" binding:"required"`
}

// PaymentWebhook применяет статус платежа от шлюза.
// POST /api/v1/webhooks/payments
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "invalid request: "+err.Error())
		return
	}
	next := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		paramError(c, "unknown payment status "+strconv.Quote(req.Status))
		return
	}

	p, err := h.engine.HandleGatewayCallback(c.Request.Context(), req.ExternalID, next)
	if err != nil {
		h.fail(c, err, "apply payment callback")
		return
	}
	success(c, api.FromPayment(p))
}

// ReviewRequest — решение администратора по ручному платежу.
type ReviewRequest struct {
	AdminUserID string `json:"admin_user_id" binding:"required"`
	Notes       string `json:"notes"`
}

// ApprovePayment подтверждает ручной платёж.
// POST /api/v1/admin/payments/:id/approve
func (h *Handler) ApprovePayment(c *gin.Context) {
	h.review(c, true)
}

// RejectPayment отклоняет ручной платёж.
// POST /api/v1/admin/payments/:id/reject
func (h *Handler) RejectPayment(c *gin.Context) {
	h.review(c, false)
}

func (h *Handler) review(c *gin.Context, approve bool) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.engine.ReviewPayment(c.Request.Context(), c.Param("id"), approve, domain.Approval{
		AdminUserID: req.AdminUserID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(c, err, "review payment")
		return
	}
	success(c, api.FromPayment(p))
}

// CancelRequest — причина отмены заказа.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelTransaction отменяет незавершённый заказ.
// POST /api/v1/admin/transactions/:id/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	var req CancelRequest
	// Тело необязательно: пустой запрос отменяет с причиной по умолчанию.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		paramError(c, "invalid request: "+err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by admin"
	}

	trx, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		h.fail(c, err, "cancel transaction")
		return
	}
	success(c, api.FromTransaction(trx))
}

// ListDeliveries возвращает записи доставки заказа.
// GET /api/v1/admin/transactions/:id/deliveries
func (h *Handler) ListDeliveries(c *gin.Context) {
	records, err := h.engine.ListDeliveries(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "list deliveries")
		return
	}
	success(c, gin.H{"deliveries": api.FromDeliveries(records)})
}

// DeliveryStatusRequest — новый статус записи доставки.
type DeliveryStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=in_progress delivered"`
}

// UpdateDeliveryStatus продвигает запись доставки.
// PUT /api/v1/admin/deliveries/:id
func (h *Handler) UpdateDeliveryStatus(c *gin.Context) {
	var req DeliveryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "invalid request: "+err.Error())
		return
	}
	rec, err := h.engine.UpdateDeliveryStatus(c.Request.Context(), c.Param("id"), domain.DeliveryStatus(req.Status))
	if err != nil {
		h.fail(c, err, "update delivery status")
		return
	}
	success(c, api.FromDelivery(rec))
}
