package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestGetTransactionView_CustomerRedactsLineStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())

	view, err := h.engine.GetTransactionView(ctx, trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionTypeProductWhatsapp, view.Type)
	require.Nil(t, view.Payment)
	require.Equal(t, WhatsappAwaitingPayment, view.Whatsapp)
	require.Empty(t, view.Transaction.Products[0].Status)
	require.Empty(t, view.Transaction.Whatsapp.Status)
	require.Nil(t, view.Deliveries)
	require.Nil(t, view.Timeline)

	// Представление не должно портить хранимые статусы.
	require.Equal(t, domain.LineStatusPending, h.transaction(t, trx.ID).Whatsapp.Status)
}

func TestGetTransactionView_AdminSeesDeliveriesAndTimeline(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	view, err := h.engine.GetTransactionView(ctx, trx.ID, AudienceAdmin)
	require.NoError(t, err)
	require.NotNil(t, view.Payment)
	require.Equal(t, domain.PaymentStatusPaid, view.Payment.Status)
	require.Equal(t, WhatsappActivationInProgress, view.Whatsapp)
	require.Equal(t, domain.LineStatusInProgress, view.Transaction.Products[0].Status)
	require.Len(t, view.Deliveries, 1)

	types := make([]string, 0, len(view.Timeline))
	for _, ev := range view.Timeline {
		types = append(types, ev.Type)
	}
	require.Equal(t, domain.TimelineTransactionCreated, types[0])
	require.Contains(t, types, domain.TimelinePaymentCreated)
	require.Contains(t, types, domain.TimelinePaymentStatus)
	require.Contains(t, types, domain.TimelineDeliveryCreated)
}

func TestGetTransactionView_RetriggersPendingActivation(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)
	require.Zero(t, h.extender.calls.Load())

	reader := h.newEngine()
	view, err := reader.GetTransactionView(ctx, trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, WhatsappActivationInProgress, view.Whatsapp)

	require.NoError(t, reader.Shutdown(ctx))
	require.Equal(t, int32(1), h.extender.calls.Load())

	view, err = h.engine.GetTransactionView(ctx, trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, WhatsappActivated, view.Whatsapp)
}

func TestGetTransactionView_ExpiresBeforeReading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())
	h.createPayment(t, trx.ID)
	h.clock.Advance(25 * time.Hour)

	view, err := h.engine.GetTransactionView(ctx, trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusExpired, view.Transaction.Status)
	require.Equal(t, domain.PaymentStatusExpired, view.Payment.Status)
	require.Equal(t, WhatsappCancelled, view.Whatsapp)

	_, err = h.engine.GetTransactionView(ctx, "missing", AudienceCustomer)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestGetTransactionView_WithoutWhatsapp(t *testing.T) {
	h := newHarness(t)
	in := productAndWhatsapp()
	in.Whatsapp = nil
	trx := h.createTransaction(t, in)

	view, err := h.engine.GetTransactionView(context.Background(), trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, WhatsappNotApplicable, view.Whatsapp)
	require.Equal(t, domain.TransactionTypeProduct, view.Type)
}

func TestListTransactions_NewestFirstAndExpiresStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := h.createTransaction(t, productAndWhatsapp())
	h.clock.Advance(domain.TransactionTTL + time.Hour)
	fresh := h.createTransaction(t, productAndWhatsapp())
	other := productAndWhatsapp()
	other.UserID = "cust-2"
	h.createTransaction(t, other)

	list, err := h.engine.ListTransactions(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, fresh.ID, list[0].ID)
	require.Equal(t, domain.TransactionStatusCreated, list[0].Status)
	require.Equal(t, old.ID, list[1].ID)
	require.Equal(t, domain.TransactionStatusExpired, list[1].Status)

	list, err = h.engine.ListTransactions(ctx, "cust-1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = h.engine.ListTransactions(ctx, "", 10)
	require.ErrorIs(t, err, domain.ErrUserRequired)
}
