package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type transactionRepository struct {
	st *state
}

// Create сохраняет новую транзакцию, если ID ещё не занят.
func (r *transactionRepository) Create(_ context.Context, t domain.Transaction) error {
	if _, exists := r.st.transactions[t.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.transactions[t.ID] = cloneTransaction(t)
	return nil
}

// Get возвращает копию транзакции или ErrTransactionNotFound.
func (r *transactionRepository) Get(_ context.Context, id string) (domain.Transaction, error) {
	t, ok := r.st.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

// ListByUser возвращает транзакции клиента, ограничивая выборку limit (если >0).
func (r *transactionRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	result := make([]domain.Transaction, 0)
	for _, t := range r.st.transactions {
		if t.UserID != userID {
			continue
		}
		result = append(result, cloneTransaction(t))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *transactionRepository) TransitionStatus(_ context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus, at time.Time) (bool, error) {
	t, ok := r.st.transactions[id]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if !slices.Contains(from, t.Status) {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = at
	r.st.transactions[id] = t
	return true, nil
}

func (r *transactionRepository) UpdateAmounts(_ context.Context, id string, serviceFee, finalAmount int64, at time.Time) error {
	t, ok := r.st.transactions[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	t.ServiceFeeAmount = serviceFee
	t.FinalAmount = finalAmount
	t.UpdatedAt = at
	r.st.transactions[id] = t
	return nil
}

func (r *transactionRepository) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	candidates := make([]domain.Transaction, 0)
	for _, t := range r.st.transactions {
		if domain.TransactionExpired(t, now) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, 0, len(candidates))
	for _, t := range candidates {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

type lineRepository struct {
	st *state
}

func (r *lineRepository) TransitionStatus(_ context.Context, filter domain.LineFilter, from []domain.LineStatus, to domain.LineStatus) (int, error) {
	t, ok := r.st.transactions[filter.TransactionID]
	if !ok {
		return 0, domain.ErrTransactionNotFound
	}

	changed := 0
	for i := range t.Products {
		if filter.Matches(t.Products[i]) && slices.Contains(from, t.Products[i].Status) {
			t.Products[i].Status = to
			changed++
		}
	}
	for i := range t.Addons {
		if filter.Matches(t.Addons[i]) && slices.Contains(from, t.Addons[i].Status) {
			t.Addons[i].Status = to
			changed++
		}
	}
	if t.Whatsapp != nil && filter.Matches(*t.Whatsapp) && slices.Contains(from, t.Whatsapp.Status) {
		t.Whatsapp.Status = to
		changed++
	}

	r.st.transactions[t.ID] = t
	return changed, nil
}

var (
	_ domain.TransactionRepository = (*transactionRepository)(nil)
	_ domain.LineRepository        = (*lineRepository)(nil)
)
