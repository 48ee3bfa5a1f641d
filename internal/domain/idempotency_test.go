package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyStatus(t *testing.T) {
	require.True(t, IdempotencyStatusProcessing.Valid())
	require.False(t, IdempotencyStatusProcessing.Terminal())
	require.True(t, IdempotencyStatusDone.Terminal())
	require.True(t, IdempotencyStatusFailed.Terminal())
	require.False(t, IdempotencyStatus("broken").Valid())
}

func TestNewIdempotencyClaim(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	claim, err := NewIdempotencyClaim("  key-1 ", "/orderflow.v1.LifecycleService/CreatePayment", "hash", time.Time{}, now)
	require.NoError(t, err)
	require.Equal(t, "key-1", claim.Key)
	require.Equal(t, IdempotencyStatusProcessing, claim.Status)
	require.Equal(t, now.Add(DefaultIdempotencyTTL), claim.ExpiresAt)
	require.False(t, claim.Expired(now))
	require.True(t, claim.Expired(claim.ExpiresAt))

	_, err = NewIdempotencyClaim(" ", "m", "hash", now, now)
	require.ErrorIs(t, err, ErrIdempotencyKeyRequired)
	_, err = NewIdempotencyClaim("key", "m", "", now, now)
	require.ErrorIs(t, err, ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRecord_Conflict(t *testing.T) {
	existing := IdempotencyRecord{Key: "k", Method: "CreatePayment", RequestHash: "h1"}

	require.ErrorIs(t, existing.Conflict(IdempotencyRecord{Method: "CreatePayment", RequestHash: "h1"}), ErrIdempotencyKeyAlreadyExists)
	require.ErrorIs(t, existing.Conflict(IdempotencyRecord{Method: "CreatePayment", RequestHash: "h2"}), ErrIdempotencyHashMismatch)
	require.ErrorIs(t, existing.Conflict(IdempotencyRecord{Method: "CancelTransaction", RequestHash: "h1"}), ErrIdempotencyHashMismatch)
	require.True(t, IsIdempotencyConflict(existing.Conflict(IdempotencyRecord{})))
}

func TestValidateIdempotencyResult(t *testing.T) {
	require.NoError(t, ValidateIdempotencyResult("k", IdempotencyStatusDone))
	require.ErrorIs(t, ValidateIdempotencyResult("", IdempotencyStatusDone), ErrIdempotencyKeyRequired)
	require.ErrorIs(t, ValidateIdempotencyResult("k", IdempotencyStatusProcessing), ErrInvalidInput)
}
