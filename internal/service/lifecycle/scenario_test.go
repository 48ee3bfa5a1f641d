package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestLifecycle_ProductAndWhatsappEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()
	start := h.clock.Now()

	trx := h.createTransaction(t, productAndWhatsapp())
	require.Equal(t, domain.TransactionStatusCreated, trx.Status)
	require.Equal(t, domain.TransactionTypeProductWhatsapp, trx.Type())
	require.Equal(t, int64(200_000), trx.FinalAmount)
	require.True(t, trx.ExpiresAt.Equal(start.Add(domain.TransactionTTL)))

	p := h.createPayment(t, trx.ID)
	require.Equal(t, domain.PaymentStatusPending, p.Status)
	require.Equal(t, int64(202_500), p.Amount)
	require.True(t, p.ExpiresAt.Equal(start.Add(domain.PaymentTTL)))

	got := h.transaction(t, trx.ID)
	require.Equal(t, domain.TransactionStatusPending, got.Status)
	require.Equal(t, int64(2_500), got.ServiceFeeAmount)
	require.Equal(t, int64(202_500), got.FinalAmount)

	paid, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, paid.Status)

	got = h.transaction(t, trx.ID)
	require.Equal(t, domain.TransactionStatusInProgress, got.Status)
	require.Equal(t, domain.LineStatusInProgress, got.Products[0].Status)
	require.Equal(t, domain.LineStatusInProgress, got.Whatsapp.Status)

	deliveries, err := h.engine.ListDeliveries(ctx, trx.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, domain.DeliveryKindProduct, deliveries[0].Kind)
	require.Equal(t, "web-basic", deliveries[0].PackageID)
	require.Equal(t, domain.DeliveryStatusPending, deliveries[0].Status)

	result, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Activated)
	require.Equal(t, domain.TransactionStatusInProgress, result.Status)

	got = h.transaction(t, trx.ID)
	require.Equal(t, domain.LineStatusSuccess, got.Whatsapp.Status)
	require.Equal(t, domain.LineStatusInProgress, got.Products[0].Status)
	require.Equal(t, domain.TransactionStatusInProgress, got.Status)

	sub, err := h.subscriptionOf(t, "cust-1", "wa-basic")
	require.NoError(t, err)
	require.True(t, sub.ExpiredAt.Equal(start.AddDate(0, 1, 0)))

	_, err = h.engine.UpdateDeliveryStatus(ctx, deliveries[0].ID, domain.DeliveryStatusDelivered)
	require.NoError(t, err)

	got = h.transaction(t, trx.ID)
	require.Equal(t, domain.LineStatusSuccess, got.Products[0].Status)
	require.Equal(t, domain.TransactionStatusSuccess, got.Status)

	again, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.False(t, again.Success)
	require.Equal(t, ReasonAlreadyActivated, again.Reason)
	require.Equal(t, int32(1), h.extender.calls.Load())
}

func TestLifecycle_PaymentExpiresAfterTTLWithoutTouchingSibling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	sibling := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)

	h.clock.Advance(25 * time.Hour)

	res, err := h.engine.AutoExpire(ctx, Scope{TransactionID: trx.ID})
	require.NoError(t, err)
	require.Equal(t, 1, res.Payments)
	require.Equal(t, 1, res.Transactions)

	require.Equal(t, domain.PaymentStatusExpired, h.payment(t, p.ID).Status)
	got := h.transaction(t, trx.ID)
	require.Equal(t, domain.TransactionStatusExpired, got.Status)
	for _, line := range got.Lines() {
		require.Equal(t, domain.LineStatusCancelled, line.CurrentStatus())
	}

	other := h.transaction(t, sibling.ID)
	require.Equal(t, domain.TransactionStatusCreated, other.Status)
	for _, line := range other.Lines() {
		require.Equal(t, domain.LineStatusPending, line.CurrentStatus())
	}

	elig, err := h.engine.CanCreatePaymentForTransaction(ctx, trx.ID)
	require.NoError(t, err)
	require.False(t, elig.Allowed)
	require.Equal(t, ReasonTransactionExpired, elig.Reason)
}

func TestActivate_ConcurrentCallsExtendOnce(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	// Второй инстанс сервиса над тем же хранилищем.
	other := h.newEngine()
	engines := []*Engine{h.engine, other}

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			result, err := e.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
			if err != nil {
				t.Errorf("activate: %v", err)
				return
			}
			mu.Lock()
			activated += result.Activated
			mu.Unlock()
		}(engines[i%len(engines)])
	}
	wg.Wait()

	require.Equal(t, 1, activated)
	require.Equal(t, int32(1), h.extender.calls.Load())

	sub, err := h.subscriptionOf(t, "cust-1", "wa-basic")
	require.NoError(t, err)
	require.True(t, sub.ExpiredAt.Equal(h.clock.Now().AddDate(0, 1, 0)))
}

func TestActivate_WithoutWhatsappLeavesDeliveryLines(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()

	trx := h.createTransaction(t, CreateTransactionInput{
		UserID:   "cust-2",
		Currency: domain.CurrencyIDR,
		Products: []ProductInput{
			{PackageID: "web-basic", Quantity: 1, UnitPrice: 100},
			{PackageID: "seo", Quantity: 2, UnitPrice: 40},
		},
		Addons: []AddonInput{
			{AddonID: "ssl", Quantity: 1, UnitPrice: 10},
			{AddonID: "domain", Quantity: 1, UnitPrice: 15},
		},
	})
	require.Equal(t, domain.TransactionTypeProductAddon, trx.Type())

	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	result, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Zero(t, result.Activated)
	require.Equal(t, domain.TransactionStatusInProgress, result.Status)
	require.Zero(t, h.extender.calls.Load())

	deliveries, err := h.engine.ListDeliveries(ctx, trx.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)

	created, err := h.engine.CreateDeliveryRecordsIfAbsent(ctx, trx.ID)
	require.NoError(t, err)
	require.Zero(t, created)

	for i, rec := range deliveries {
		_, err := h.engine.UpdateDeliveryStatus(ctx, rec.ID, domain.DeliveryStatusInProgress)
		require.NoError(t, err)
		_, err = h.engine.UpdateDeliveryStatus(ctx, rec.ID, domain.DeliveryStatusDelivered)
		require.NoError(t, err)

		want := domain.TransactionStatusInProgress
		if i == len(deliveries)-1 {
			want = domain.TransactionStatusSuccess
		}
		require.Equal(t, want, h.transaction(t, trx.ID).Status)
	}

	_, err = h.engine.UpdateDeliveryStatus(ctx, deliveries[0].ID, domain.DeliveryStatusPending)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestActivate_ExtensionFailureMarksLineFailed(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	h.extender.err = domain.ErrSubscriptionExtensionFailed
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	result, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1, result.Failed)

	got := h.transaction(t, trx.ID)
	require.Equal(t, domain.LineStatusFailed, got.Whatsapp.Status)
	require.Equal(t, domain.TransactionStatusInProgress, got.Status)
	require.Equal(t, domain.PaymentStatusPaid, h.payment(t, p.ID).Status)

	_, err = h.subscriptionOf(t, "cust-1", "wa-basic")
	require.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	again, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonActivationFailed, again.Reason)
	require.Equal(t, int32(1), h.extender.calls.Load())

	view, err := h.engine.GetTransactionView(ctx, trx.ID, AudienceCustomer)
	require.NoError(t, err)
	require.Equal(t, WhatsappActivationFailed, view.Whatsapp)
}

func TestRetryActivation_RecoversFailedWhatsappLine(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	h.extender.err = domain.ErrSubscriptionExtensionFailed
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)
	_, err = h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)

	_, err = h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindWhatsapp, "")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	// Повтор при неустранённом сбое снова оставляет позицию failed.
	result, err := h.engine.RetryActivation(ctx, trx.ID, "")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, domain.LineStatusFailed, h.transaction(t, trx.ID).Whatsapp.Status)

	h.extender.err = nil
	result, err = h.engine.RetryActivation(ctx, trx.ID, "operator retry")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Activated)
	require.Equal(t, int32(3), h.extender.calls.Load())

	got := h.transaction(t, trx.ID)
	require.Equal(t, domain.LineStatusSuccess, got.Whatsapp.Status)
	require.Equal(t, domain.TransactionStatusInProgress, got.Status)
	_, err = h.subscriptionOf(t, "cust-1", "wa-basic")
	require.NoError(t, err)

	status, err := h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindProduct, "")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusSuccess, status)

	_, err = h.engine.RetryActivation(ctx, trx.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRetryActivation_RejectsLinesThatDidNotFail(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()

	unpaid := h.createTransaction(t, productAndWhatsapp())
	_, err := h.engine.RetryActivation(ctx, unpaid.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err = h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	_, err = h.engine.RetryActivation(ctx, trx.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	require.Zero(t, h.extender.calls.Load())
	require.Equal(t, domain.LineStatusInProgress, h.transaction(t, trx.ID).Whatsapp.Status)

	_, err = h.engine.RetryActivation(ctx, "missing", "")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestActivate_NotPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	result, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonNotPaid, result.Reason)

	h.createPayment(t, trx.ID)
	result, err = h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonNotPaid, result.Reason)
	require.Equal(t, domain.TransactionStatusPending, result.Status)
	require.Zero(t, h.extender.calls.Load())

	_, err = h.engine.ActivateServicesAfterPaymentUpdate(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
