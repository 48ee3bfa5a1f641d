package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок хранения результата, если вызывающий не задал свой.
const DefaultIdempotencyTTL = 24 * time.Hour

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден или уже удалён по TTL.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим методом или телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IdempotencyStatus — стадия обработки мутирующего RPC.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// Terminal сообщает, что результат вызова зафиксирован.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — результат мутирующего RPC (CreateTransaction, CreatePayment,
// CancelTransaction), сохранённый по idempotency-key клиента.
type IdempotencyRecord struct {
	Key         string
	Method      string
	RequestHash string
	Status      IdempotencyStatus
	// Response — JSON ответа или ошибки, ResultCode — gRPC-код результата.
	Response   []byte
	ResultCode int
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewIdempotencyClaim проверяет ключ и готовит запись в статусе processing.
// Нулевой expiresAt заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyClaim(key, method, requestHash string, expiresAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		Method:      method,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Expired сообщает, что запись можно удалить.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Conflict возвращает ошибку для повторной попытки занять уже существующий ключ.
func (r IdempotencyRecord) Conflict(claim IdempotencyRecord) error {
	if r.RequestHash != claim.RequestHash || r.Method != claim.Method {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// ValidateIdempotencyResult проверяет аргументы завершения вызова.
func ValidateIdempotencyResult(key string, status IdempotencyStatus) error {
	if strings.TrimSpace(key) == "" {
		return ErrIdempotencyKeyRequired
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: idempotency result status %q is not terminal", ErrInvalidInput, status)
	}
	return nil
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
