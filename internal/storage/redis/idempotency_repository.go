// Package redis хранит idempotency-ключи в Redis: TTL ключа совпадает с TTL записи,
// поэтому отдельная очистка не нужна.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const defaultKeyPrefix = "orderflow:idempotency:"

// IdempotencyRepository — реализация domain.IdempotencyRepository поверх Redis.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий; пустой prefix заменяется значением по умолчанию.
func NewIdempotencyRepository(client goredis.UniversalClient, prefix string) *IdempotencyRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &IdempotencyRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewClient подключается к Redis и проверяет соединение.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

type storedRecord struct {
	Method      string                   `json:"method"`
	RequestHash string                   `json:"request_hash"`
	Status      domain.IdempotencyStatus `json:"status"`
	Response    []byte                   `json:"response,omitempty"`
	ResultCode  int                      `json:"result_code,omitempty"`
	ExpiresAt   time.Time                `json:"expires_at"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func toStored(rec domain.IdempotencyRecord) storedRecord {
	return storedRecord{
		Method:      rec.Method,
		RequestHash: rec.RequestHash,
		Status:      rec.Status,
		Response:    rec.Response,
		ResultCode:  rec.ResultCode,
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (s storedRecord) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:         key,
		Method:      s.Method,
		RequestHash: s.RequestHash,
		Status:      s.Status,
		Response:    s.Response,
		ResultCode:  s.ResultCode,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Claim атомарно занимает ключ через SET NX с TTL до ExpiresAt.
func (r *IdempotencyRepository) Claim(ctx context.Context, claim domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(claim.Key, claim.Method, claim.RequestHash, claim.ExpiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	ttl := claim.ExpiresAt.Sub(claim.CreatedAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	body, err := json.Marshal(toStored(claim))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.prefix+claim.Key, body, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return claim, nil
	}

	existing, err := r.Get(ctx, claim.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return existing, existing.Conflict(claim)
}

// Get читает запись по ключу.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	body, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis get: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(body, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return stored.toDomain(key), nil
}

// Complete перезаписывает запись, сохраняя оставшийся TTL ключа (SET XX KEEPTTL).
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, status domain.IdempotencyStatus, response []byte, resultCode int) error {
	if err := domain.ValidateIdempotencyResult(key, status); err != nil {
		return err
	}
	rec, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Response = response
	rec.ResultCode = resultCode
	rec.UpdatedAt = r.now()

	body, err := json.Marshal(toStored(rec))
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	err = r.client.SetArgs(ctx, r.prefix+rec.Key, body, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// DeleteExpired ничего не делает: Redis удаляет ключи по TTL сам.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis для readiness.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
