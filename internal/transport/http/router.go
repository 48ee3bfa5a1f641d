// Package httpapi — HTTP-вход для платёжного шлюза и админки поверх движка жизненного цикла.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

// Lifecycle — операции движка, которые нужны HTTP-обработчикам.
type Lifecycle interface {
	GetTransactionView(ctx context.Context, transactionID string, audience lifecycle.Audience) (lifecycle.TransactionView, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Cancel(ctx context.Context, transactionID, reason string) (domain.Transaction, error)
	HandleGatewayCallback(ctx context.Context, externalID string, next domain.PaymentStatus) (domain.Payment, error)
	ReviewPayment(ctx context.Context, paymentID string, approve bool, approval domain.Approval) (domain.Payment, error)
	UpdateDeliveryStatus(ctx context.Context, deliveryID string, next domain.DeliveryStatus) (domain.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, transactionID string) ([]domain.DeliveryRecord, error)
}

// NewRouter собирает gin-роутер со всеми маршрутами.
func NewRouter(engine Lifecycle, logger *log.Entry) *gin.Engine {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))

	h := NewHandler(engine, logger)

	api := r.Group("/api/v1")
	{
		transactions := api.Group("/transactions")
		{
			transactions.GET("", h.ListTransactions)
			transactions.GET("/:id", h.GetTransaction)
		}

		api.POST("/webhooks/payments", h.PaymentWebhook)

		admin := api.Group("/admin")
		{
			admin.GET("/transactions/:id", h.GetTransactionAdmin)
			admin.POST("/transactions/:id/cancel", h.CancelTransaction)
			admin.GET("/transactions/:id/deliveries", h.ListDeliveries)
			admin.POST("/payments/:id/approve", h.ApprovePayment)
			admin.POST("/payments/:id/reject", h.RejectPayment)
			admin.PUT("/deliveries/:id", h.UpdateDeliveryStatus)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
