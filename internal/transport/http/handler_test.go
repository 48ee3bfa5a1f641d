package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/orderflow/internal/service/subscription"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	httpapi "github.com/vladislavdragonenkov/orderflow/internal/transport/http"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	engine *lifecycle.Engine
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "http-test")

	clock := fixedClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	engine := lifecycle.New(memory.NewStore(), subscription.NewExtender(clock, entry),
		lifecycle.WithClock(clock),
		lifecycle.WithLogger(entry),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	return &harness{engine: engine, router: httpapi.NewRouter(engine, entry)}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (h *harness) productOrder(t *testing.T) (domain.Transaction, domain.Payment) {
	t.Helper()
	ctx := context.Background()

	trx, err := h.engine.CreateTransaction(ctx, lifecycle.CreateTransactionInput{
		UserID:   "cust-1",
		Currency: domain.CurrencyIDR,
		Products: []lifecycle.ProductInput{{PackageID: "web-basic", Quantity: 1, UnitPrice: 150_000}},
	})
	require.NoError(t, err)

	p, err := h.engine.CreatePayment(ctx, lifecycle.CreatePaymentInput{
		TransactionID: trx.ID,
		Method:        "virtual_account",
		ExternalID:    "gw-" + trx.ID,
	})
	require.NoError(t, err)
	return trx, p
}

func TestWebhook_PaidMovesTransactionForward(t *testing.T) {
	h := newHarness(t)
	trx, p := h.productOrder(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/webhooks/payments", map[string]string{
		"external_id": p.ExternalID,
		"status":      "PAID",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, httpapi.CodeSuccess, env.Code)

	var payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payment))
	require.Equal(t, p.ID, payment.ID)
	require.Equal(t, string(domain.PaymentStatusPaid), payment.Status)

	code, env = h.do(t, http.MethodGet, "/api/v1/transactions/"+trx.ID, nil)
	require.Equal(t, http.StatusOK, code)

	var view struct {
		Transaction struct {
			Status string `json:"status"`
		} `json:"transaction"`
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, string(domain.TransactionStatusInProgress), view.Transaction.Status)
	require.Equal(t, string(domain.PaymentStatusPaid), view.Payment.Status)
}

func TestWebhook_Rejections(t *testing.T) {
	h := newHarness(t)
	_, p := h.productOrder(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/webhooks/payments", map[string]string{"status": "paid"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, httpapi.CodeParamError, env.Code)

	code, _ = h.do(t, http.MethodPost, "/api/v1/webhooks/payments", map[string]string{
		"external_id": p.ExternalID,
		"status":      "refunded",
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = h.do(t, http.MethodPost, "/api/v1/webhooks/payments", map[string]string{
		"external_id": "unknown",
		"status":      "paid",
	})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, httpapi.CodeNotFound, env.Code)
}

func TestAdmin_ReviewAndDelivery(t *testing.T) {
	h := newHarness(t)
	trx, p := h.productOrder(t)

	code, _ := h.do(t, http.MethodPost, "/api/v1/admin/payments/"+p.ID+"/approve", map[string]string{})
	require.Equal(t, http.StatusBadRequest, code, "admin_user_id is required")

	code, env := h.do(t, http.MethodPost, "/api/v1/admin/payments/"+p.ID+"/approve", map[string]string{
		"admin_user_id": "admin-1",
		"notes":         "checked",
	})
	require.Equal(t, http.StatusOK, code)

	var payment struct {
		Status      string `json:"status"`
		AdminUserID string `json:"admin_user_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payment))
	require.Equal(t, string(domain.PaymentStatusPaid), payment.Status)
	require.Equal(t, "admin-1", payment.AdminUserID)

	code, env = h.do(t, http.MethodGet, "/api/v1/admin/transactions/"+trx.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, code)

	var listed struct {
		Deliveries []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed.Deliveries, 1)

	code, _ = h.do(t, http.MethodPut, "/api/v1/admin/deliveries/"+listed.Deliveries[0].ID, map[string]string{"status": "pending"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPut, "/api/v1/admin/deliveries/"+listed.Deliveries[0].ID, map[string]string{"status": "delivered"})
	require.Equal(t, http.StatusOK, code)

	code, env = h.do(t, http.MethodGet, "/api/v1/admin/transactions/"+trx.ID, nil)
	require.Equal(t, http.StatusOK, code)

	var view struct {
		Transaction struct {
			Status string `json:"status"`
		} `json:"transaction"`
		Timeline []json.RawMessage `json:"timeline"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, string(domain.TransactionStatusSuccess), view.Transaction.Status)
	require.NotEmpty(t, view.Timeline)

	code, env = h.do(t, http.MethodPost, "/api/v1/admin/transactions/"+trx.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, httpapi.CodeInvalidState, env.Code)
}

func TestAdmin_CancelPendingTransaction(t *testing.T) {
	h := newHarness(t)
	trx, p := h.productOrder(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/admin/transactions/"+trx.ID+"/cancel", map[string]string{"reason": "duplicate order"})
	require.Equal(t, http.StatusOK, code)

	var cancelled struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cancelled))
	require.Equal(t, string(domain.TransactionStatusCancelled), cancelled.Status)

	code, env = h.do(t, http.MethodPost, "/api/v1/admin/payments/"+p.ID+"/approve", map[string]string{"admin_user_id": "admin-1"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, httpapi.CodeInvalidState, env.Code)
}

func TestAdmin_CancelReadsChunkedBody(t *testing.T) {
	h := newHarness(t)
	trx, _ := h.productOrder(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/transactions/"+trx.ID+"/cancel",
		io.MultiReader(bytes.NewBufferString(`{"reason":`), bytes.NewBufferString(`"customer changed mind"}`)))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view, err := h.engine.GetTransactionView(context.Background(), trx.ID, lifecycle.AudienceAdmin)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, view.Transaction.Status)

	reasons := make([]string, 0, len(view.Timeline))
	for _, ev := range view.Timeline {
		reasons = append(reasons, ev.Reason)
	}
	require.Contains(t, reasons, "customer changed mind")
	require.NotContains(t, reasons, "cancelled by admin")
}

func TestAdmin_CancelBodyOptionalButMustBeJSON(t *testing.T) {
	h := newHarness(t)
	trx, _ := h.productOrder(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/transactions/"+trx.ID+"/cancel", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	code, _ := h.do(t, http.MethodPost, "/api/v1/admin/transactions/"+trx.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)

	view, err := h.engine.GetTransactionView(context.Background(), trx.ID, lifecycle.AudienceAdmin)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, view.Transaction.Status)
}

func TestListTransactions(t *testing.T) {
	h := newHarness(t)
	h.productOrder(t)
	h.productOrder(t)

	code, env := h.do(t, http.MethodGet, "/api/v1/transactions?user_id=cust-1&limit=1", nil)
	require.Equal(t, http.StatusOK, code)

	var listed struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed.Transactions, 1)

	code, _ = h.do(t, http.MethodGet, "/api/v1/transactions?user_id=cust-1&limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/api/v1/transactions", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/api/v1/transactions/missing", nil)
	require.Equal(t, http.StatusNotFound, code)
}
