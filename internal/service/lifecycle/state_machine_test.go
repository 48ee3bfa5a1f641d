package lifecycle

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestCreateTransaction_Validation(t *testing.T) {
	valid := productAndWhatsapp

	tests := []struct {
		name   string
		mutate func(in *CreateTransactionInput)
		want   error
	}{
		{"missing user", func(in *CreateTransactionInput) { in.UserID = "" }, domain.ErrUserRequired},
		{"unknown currency", func(in *CreateTransactionInput) { in.Currency = "eur" }, domain.ErrCurrencyInvalid},
		{"no lines", func(in *CreateTransactionInput) { in.Products = nil; in.Whatsapp = nil }, domain.ErrLinesRequired},
		{"zero quantity", func(in *CreateTransactionInput) { in.Products[0].Quantity = 0 }, domain.ErrLineQtyInvalid},
		{"negative price", func(in *CreateTransactionInput) { in.Products[0].UnitPrice = -1 }, domain.ErrLinePriceInvalid},
		{"missing package", func(in *CreateTransactionInput) { in.Products[0].PackageID = "" }, domain.ErrLineRefRequired},
		{"missing addon", func(in *CreateTransactionInput) {
			in.Addons = []AddonInput{{Quantity: 1, UnitPrice: 1}}
		}, domain.ErrLineRefRequired},
		{"bad duration", func(in *CreateTransactionInput) { in.Whatsapp.Duration = "week" }, domain.ErrDurationInvalid},
		{"negative discount", func(in *CreateTransactionInput) { in.DiscountAmount = -5 }, domain.ErrAmountNegative},
		{"discount exceeds total", func(in *CreateTransactionInput) { in.DiscountAmount = 500_000 }, domain.ErrDiscountExceedsTotal},
		{"line amount overflows", func(in *CreateTransactionInput) {
			in.Products[0].Quantity = 3
			in.Products[0].UnitPrice = 6148914691236517206
		}, domain.ErrAmountOverflow},
		{"lines sum overflows", func(in *CreateTransactionInput) {
			in.Products[0].UnitPrice = math.MaxInt64 - 10
			in.Whatsapp.Price = 11
		}, domain.ErrAmountOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := valid()
			tt.mutate(&in)

			_, err := h.engine.CreateTransaction(context.Background(), in)
			require.ErrorIs(t, err, tt.want)
			require.True(t, domain.IsValidation(err))
		})
	}
}

func TestCreateTransaction_OverflowLeavesNoRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := productAndWhatsapp()
	in.Products[0].Quantity = 3
	in.Products[0].UnitPrice = 6148914691236517206

	_, err := h.engine.CreateTransaction(ctx, in)
	require.ErrorIs(t, err, domain.ErrAmountOverflow)

	stats, err := h.store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestCreatePayment_ServiceFeeOverflowRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := productAndWhatsapp()
	in.Products[0].UnitPrice = math.MaxInt64 - in.Whatsapp.Price
	trx := h.createTransaction(t, in)

	_, err := h.engine.CreatePayment(ctx, CreatePaymentInput{TransactionID: trx.ID, Method: "va_bca", ServiceFee: 1})
	require.ErrorIs(t, err, domain.ErrAmountOverflow)

	stored := h.transaction(t, trx.ID)
	require.Equal(t, domain.TransactionStatusCreated, stored.Status)
	require.Equal(t, int64(math.MaxInt64), stored.FinalAmount)
}

func TestCreateTransaction_AppliesDiscountAndRecordsEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := productAndWhatsapp()
	in.VoucherID = "SPRING10"
	in.DiscountAmount = 20_000
	in.Addons = []AddonInput{{AddonID: "ssl", Quantity: 2, UnitPrice: 5_000}}

	trx := h.createTransaction(t, in)
	require.Equal(t, domain.TransactionTypeBundle, trx.Type())
	require.Equal(t, int64(210_000), trx.OriginalAmount)
	require.Equal(t, int64(190_000), trx.TotalAfterDiscount)
	require.Equal(t, int64(190_000), trx.FinalAmount)
	require.Equal(t, "SPRING10", trx.VoucherID)
	for _, line := range trx.Lines() {
		require.Equal(t, domain.LineStatusPending, line.CurrentStatus())
	}

	stats, err := h.store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)

	view, err := h.engine.GetTransactionView(ctx, trx.ID, AudienceAdmin)
	require.NoError(t, err)
	require.Len(t, view.Timeline, 1)
	require.Equal(t, domain.TimelineTransactionCreated, view.Timeline[0].Type)
}

func TestCancel_PendingTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)

	cancelled, err := h.engine.Cancel(ctx, trx.ID, "customer request")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)
	for _, line := range cancelled.Lines() {
		require.Equal(t, domain.LineStatusCancelled, line.CurrentStatus())
	}
	require.Equal(t, domain.PaymentStatusCancelled, h.payment(t, p.ID).Status)

	again, err := h.engine.Cancel(ctx, trx.ID, "double click")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, again.Status)

	_, err = h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = h.engine.Cancel(ctx, "missing", "")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestCancel_InProgressKeepsPaidPaymentAndDeliveries(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())
	p := h.createPayment(t, trx.ID)
	_, err := h.engine.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	cancelled, err := h.engine.Cancel(ctx, trx.ID, "refund requested")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)
	require.Equal(t, domain.PaymentStatusPaid, h.payment(t, p.ID).Status)

	deliveries, err := h.engine.ListDeliveries(ctx, trx.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, domain.DeliveryStatusPending, deliveries[0].Status)

	result, err := h.engine.ActivateServicesAfterPaymentUpdate(ctx, trx.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonNotInProgress, result.Reason)
	require.Zero(t, h.extender.calls.Load())

	_, err = h.engine.UpdateDeliveryStatus(ctx, deliveries[0].ID, domain.DeliveryStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCancelled, h.transaction(t, trx.ID).Status)
}

func TestCancel_TerminalTransactionsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trx := h.createTransaction(t, productAndWhatsapp())
	h.clock.Advance(domain.TransactionTTL + time.Minute)
	_, err := h.engine.AutoExpire(ctx, Scope{TransactionID: trx.ID})
	require.NoError(t, err)

	_, err = h.engine.Cancel(ctx, trx.ID, "too late")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	require.Equal(t, domain.TransactionStatusExpired, h.transaction(t, trx.ID).Status)
}

func TestMarkChildSuccess(t *testing.T) {
	h := newHarness(t)
	h.manualActivation(t)
	ctx := context.Background()

	in := productAndWhatsapp()
	in.Whatsapp = nil
	in.Addons = []AddonInput{{AddonID: "ssl", Quantity: 1, UnitPrice: 10}}
	trx := h.createTransaction(t, in)

	_, err := h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindProduct, "")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	require.NoError(t, h.engine.MarkInProgress(ctx, trx.ID))
	require.NoError(t, h.engine.MarkInProgress(ctx, trx.ID))

	_, err = h.engine.MarkChildSuccess(ctx, trx.ID, "voucher", "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindAddon, "missing-line")
	require.ErrorIs(t, err, domain.ErrLineNotFound)

	status, err := h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindProduct, trx.Products[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusInProgress, status)

	status, err = h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindProduct, trx.Products[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusInProgress, status)

	status, err = h.engine.MarkChildSuccess(ctx, trx.ID, domain.LineKindAddon, "")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusSuccess, status)

	status, err = h.engine.RecomputeAggregate(ctx, trx.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusSuccess, status)
}

func TestMarkPending_OnlyFromCreated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trx := h.createTransaction(t, productAndWhatsapp())

	require.NoError(t, h.engine.MarkPending(ctx, trx.ID))
	require.NoError(t, h.engine.MarkPending(ctx, trx.ID))
	require.Equal(t, domain.TransactionStatusPending, h.transaction(t, trx.ID).Status)

	_, err := h.engine.Cancel(ctx, trx.ID, "")
	require.NoError(t, err)
	require.ErrorIs(t, h.engine.MarkPending(ctx, trx.ID), domain.ErrInvalidStateTransition)
	require.ErrorIs(t, h.engine.MarkInProgress(ctx, trx.ID), domain.ErrInvalidStateTransition)
}
