package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const idempotencyOpTimeout = 5 * time.Second

const idempotencyColumns = `key, method, request_hash, status, response, result_code, expires_at, created_at, updated_at`

// IdempotencyRepository хранит результаты RPC в таблице idempotency_keys.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх пула соединений store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Claim вставляет запись или перезанимает ключ с истёкшим сроком одним запросом.
func (r *IdempotencyRepository) Claim(ctx context.Context, claim domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(claim.Key, claim.Method, claim.RequestHash, claim.ExpiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, method, request_hash, status, result_code, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
		ON CONFLICT (key) DO UPDATE SET
			method       = EXCLUDED.method,
			request_hash = EXCLUDED.request_hash,
			status       = EXCLUDED.status,
			response     = NULL,
			result_code  = 0,
			expires_at   = EXCLUDED.expires_at,
			created_at   = EXCLUDED.created_at,
			updated_at   = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
	`, claim.Key, claim.Method, claim.RequestHash, string(claim.Status), claim.ExpiresAt, claim.CreatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if n == 1 {
		return claim, nil
	}

	existing, err := r.Get(ctx, claim.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load claimed idempotency key: %w", err)
	}
	return existing, existing.Conflict(claim)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	var (
		rec    domain.IdempotencyRecord
		status string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&rec.Key, &rec.Method, &rec.RequestHash, &status, &rec.Response, &rec.ResultCode,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has invalid status %q", key, status)
	}
	return rec, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key string, status domain.IdempotencyStatus, response []byte, resultCode int) error {
	if err := domain.ValidateIdempotencyResult(key, status); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response = $3, result_code = $4, updated_at = $5
		WHERE key = $1
	`, strings.TrimSpace(key), string(status), response, resultCode, r.now())
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет до limit просроченных записей (limit <= 0 — все).
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE expires_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return affectedRows(res)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
