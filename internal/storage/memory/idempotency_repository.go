package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// IdempotencyRepository хранит результаты RPC в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт пустой репозиторий.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) Claim(_ context.Context, claim domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(claim.Key, claim.Method, claim.RequestHash, claim.ExpiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[claim.Key]; ok && !existing.Expired(claim.CreatedAt) {
		return cloneRecord(existing), existing.Conflict(claim)
	}
	r.records[claim.Key] = claim
	return cloneRecord(claim), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneRecord(rec), nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, status domain.IdempotencyStatus, response []byte, resultCode int) error {
	if err := domain.ValidateIdempotencyResult(key, status); err != nil {
		return err
	}
	key = strings.TrimSpace(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.Response = slices.Clone(response)
	rec.ResultCode = resultCode
	rec.UpdatedAt = r.now()
	r.records[key] = rec
	return nil
}

// DeleteExpired удаляет до limit записей с ExpiresAt <= before, самые старые первыми.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range r.records {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(r.records, rec.Key)
	}
	return len(expired), nil
}

func cloneRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.Response = slices.Clone(rec.Response)
	return rec
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
