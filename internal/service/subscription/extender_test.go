package subscription

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingSubscriptions struct {
	domain.SubscriptionRepository
	getErr, upsertErr error
}

func (f failingSubscriptions) Get(context.Context, string, string) (domain.ServiceSubscription, error) {
	if f.getErr != nil {
		return domain.ServiceSubscription{}, f.getErr
	}
	return domain.ServiceSubscription{}, domain.ErrSubscriptionNotFound
}

func (f failingSubscriptions) Upsert(context.Context, domain.ServiceSubscription) error {
	return f.upsertErr
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "subscription-test")
}

func extend(t *testing.T, store *memory.Store, ext *Extender, duration domain.Duration) domain.ServiceSubscription {
	t.Helper()
	var sub domain.ServiceSubscription
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		sub, err = ext.ExtendOrCreate(ctx, tx.Subscriptions(), "cust-1", "wa-basic", duration)
		return err
	})
	require.NoError(t, err)
	return sub
}

func TestExtendOrCreate_CreatesFromNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	ext := NewExtender(fixedClock{now: now}, quietLogger())

	sub := extend(t, store, ext, domain.DurationMonth)
	require.Equal(t, now.AddDate(0, 1, 0), sub.ExpiredAt)
	require.Equal(t, now, sub.CreatedAt)
}

func TestExtendOrCreate_StacksActiveSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()

	first := extend(t, store, NewExtender(fixedClock{now: now}, quietLogger()), domain.DurationMonth)

	later := now.Add(5 * 24 * time.Hour)
	second := extend(t, store, NewExtender(fixedClock{now: later}, quietLogger()), domain.DurationMonth)

	require.Equal(t, first.ExpiredAt.AddDate(0, 1, 0), second.ExpiredAt)
	require.Equal(t, now, second.CreatedAt)
}

func TestExtendOrCreate_ExpiredSubscriptionRestartsFromNow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()

	extend(t, store, NewExtender(fixedClock{now: start}, quietLogger()), domain.DurationMonth)

	now := start.AddDate(0, 3, 0)
	sub := extend(t, store, NewExtender(fixedClock{now: now}, quietLogger()), domain.DurationYear)
	require.Equal(t, now.AddDate(1, 0, 0), sub.ExpiredAt)
}

func TestExtendOrCreate_Failures(t *testing.T) {
	ext := NewExtender(fixedClock{now: time.Now().UTC()}, quietLogger())
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ext.ExtendOrCreate(ctx, failingSubscriptions{getErr: boom}, "cust", "pkg", domain.DurationMonth)
	require.ErrorIs(t, err, domain.ErrSubscriptionExtensionFailed)
	require.ErrorIs(t, err, boom)

	_, err = ext.ExtendOrCreate(ctx, failingSubscriptions{upsertErr: boom}, "cust", "pkg", domain.DurationMonth)
	require.ErrorIs(t, err, domain.ErrSubscriptionExtensionFailed)

	_, err = ext.ExtendOrCreate(ctx, failingSubscriptions{}, "cust", "pkg", domain.Duration("week"))
	require.ErrorIs(t, err, domain.ErrDurationInvalid)

	_, err = ext.ExtendOrCreate(ctx, failingSubscriptions{}, "", "pkg", domain.DurationMonth)
	require.ErrorIs(t, err, domain.ErrSubscriptionExtensionFailed)
}
