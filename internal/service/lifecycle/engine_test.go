package lifecycle

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/service/subscription"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingExtender считает вызовы продления и при необходимости возвращает ошибку.
type countingExtender struct {
	inner *subscription.Extender
	calls atomic.Int32
	err   error
}

func (c *countingExtender) ExtendOrCreate(ctx context.Context, subs domain.SubscriptionRepository, customerID, packageID string, duration domain.Duration) (domain.ServiceSubscription, error) {
	c.calls.Add(1)
	if c.err != nil {
		return domain.ServiceSubscription{}, c.err
	}
	return c.inner.ExtendOrCreate(ctx, subs, customerID, packageID, duration)
}

type harness struct {
	engine   *Engine
	store    *memory.Store
	clock    *testClock
	extender *countingExtender
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "lifecycle-test")
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	ext := &countingExtender{inner: subscription.NewExtender(clock, quietLogger())}
	m := metrics.NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	h := &harness{
		store:    store,
		clock:    clock,
		extender: ext,
	}
	h.engine = h.newEngine(WithMetrics(m))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

// newEngine создаёт ещё один движок поверх того же хранилища, как второй инстанс сервиса.
func (h *harness) newEngine(opts ...Option) *Engine {
	base := []Option{WithClock(h.clock), WithLogger(quietLogger()), WithActivationTimeout(5 * time.Second)}
	return New(h.store, h.extender, append(base, opts...)...)
}

// manualActivation отключает фоновую активацию, чтобы тест вызывал её сам.
func (h *harness) manualActivation(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Shutdown(context.Background()))
}

func productAndWhatsapp() CreateTransactionInput {
	return CreateTransactionInput{
		UserID:   "cust-1",
		Currency: domain.CurrencyIDR,
		Products: []ProductInput{{PackageID: "web-basic", Quantity: 1, UnitPrice: 150_000}},
		Whatsapp: &WhatsappInput{PackageID: "wa-basic", Duration: domain.DurationMonth, Price: 50_000},
	}
}

func (h *harness) createTransaction(t *testing.T, in CreateTransactionInput) domain.Transaction {
	t.Helper()
	trx, err := h.engine.CreateTransaction(context.Background(), in)
	require.NoError(t, err)
	return trx
}

func (h *harness) createPayment(t *testing.T, transactionID string) domain.Payment {
	t.Helper()
	p, err := h.engine.CreatePayment(context.Background(), CreatePaymentInput{
		TransactionID: transactionID,
		Method:        "bank_transfer",
		ServiceFee:    2_500,
		ExternalID:    "ext-" + transactionID,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) transaction(t *testing.T, id string) domain.Transaction {
	t.Helper()
	var trx domain.Transaction
	require.NoError(t, h.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		trx, err = tx.Transactions().Get(ctx, id)
		return err
	}))
	return trx
}

func (h *harness) payment(t *testing.T, id string) domain.Payment {
	t.Helper()
	var p domain.Payment
	require.NoError(t, h.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		p, err = tx.Payments().Get(ctx, id)
		return err
	}))
	return p
}

func (h *harness) subscriptionOf(t *testing.T, customerID, packageID string) (domain.ServiceSubscription, error) {
	t.Helper()
	var sub domain.ServiceSubscription
	err := h.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(ctx, customerID, packageID)
		return err
	})
	return sub, err
}

func TestNew_DefaultsAndOptions(t *testing.T) {
	e := New(memory.NewStore(), nil)
	require.Equal(t, defaultActivationTimeout, e.activationTimeout)
	require.Equal(t, defaultSweepBatchSize, e.sweepBatchSize)
	require.Nil(t, e.metrics)

	e = New(memory.NewStore(), nil, WithActivationTimeout(0), WithSweepBatchSize(-1), WithClock(nil), WithLogger(nil))
	require.Equal(t, defaultActivationTimeout, e.activationTimeout)
	require.Equal(t, defaultSweepBatchSize, e.sweepBatchSize)
	require.NotNil(t, e.clock)
	require.NotNil(t, e.logger)

	e = New(memory.NewStore(), nil, WithActivationTimeout(time.Second), WithSweepBatchSize(7))
	require.Equal(t, time.Second, e.activationTimeout)
	require.Equal(t, 7, e.sweepBatchSize)
}

func TestShutdown_SkipsNewDispatches(t *testing.T) {
	h := newHarness(t)
	trx := h.createTransaction(t, CreateTransactionInput{
		UserID:   "cust-1",
		Currency: domain.CurrencyUSD,
		Whatsapp: &WhatsappInput{PackageID: "wa-basic", Duration: domain.DurationYear, Price: 10},
	})
	p := h.createPayment(t, trx.ID)

	h.manualActivation(t)
	_, err := h.engine.UpdatePaymentStatus(context.Background(), p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.Shutdown(context.Background()))
	require.Zero(t, h.extender.calls.Load())
	require.Equal(t, domain.LineStatusInProgress, h.transaction(t, trx.ID).Whatsapp.Status)
}

func TestShutdown_WaitsForDispatchedActivation(t *testing.T) {
	h := newHarness(t)
	trx := h.createTransaction(t, CreateTransactionInput{
		UserID:   "cust-1",
		Currency: domain.CurrencyIDR,
		Whatsapp: &WhatsappInput{PackageID: "wa-basic", Duration: domain.DurationMonth, Price: 10},
	})
	p := h.createPayment(t, trx.ID)

	_, err := h.engine.UpdatePaymentStatus(context.Background(), p.ID, domain.PaymentStatusPaid, nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.Shutdown(context.Background()))
	require.Equal(t, int32(1), h.extender.calls.Load())

	got := h.transaction(t, trx.ID)
	require.Equal(t, domain.LineStatusSuccess, got.Whatsapp.Status)
	require.Equal(t, domain.TransactionStatusSuccess, got.Status)
}
