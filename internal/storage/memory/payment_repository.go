package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type paymentRepository struct {
	st *state
}

// Create сохраняет платёж; у транзакции может быть только один pending-платёж.
func (r *paymentRepository) Create(_ context.Context, p domain.Payment) error {
	if _, exists := r.st.payments[p.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if p.Status == domain.PaymentStatusPending {
		for _, existing := range r.st.payments {
			if existing.TransactionID == p.TransactionID && existing.Status == domain.PaymentStatusPending {
				return domain.ErrPendingPaymentExists
			}
		}
	}
	r.st.payments[p.ID] = p
	return nil
}

func (r *paymentRepository) Get(_ context.Context, id string) (domain.Payment, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (r *paymentRepository) GetByExternalID(_ context.Context, externalID string) (domain.Payment, error) {
	if externalID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, p := range r.st.payments {
		if p.ExternalID == externalID {
			return p, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

// Latest возвращает последний по времени создания платёж транзакции.
func (r *paymentRepository) Latest(_ context.Context, transactionID string) (domain.Payment, error) {
	var (
		latest domain.Payment
		found  bool
	)
	for _, p := range r.st.payments {
		if p.TransactionID != transactionID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) ||
			(p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest = p
			found = true
		}
	}
	if !found {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return latest, nil
}

func (r *paymentRepository) TransitionStatus(_ context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus, approval *domain.Approval, at time.Time) (bool, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if !slices.Contains(from, p.Status) {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	if approval != nil {
		p.AdminUserID = approval.AdminUserID
		p.AdminNotes = approval.Notes
		p.ActionDate = at
	}
	r.st.payments[id] = p
	return true, nil
}

func (r *paymentRepository) TransitionByTransaction(_ context.Context, transactionID string, from []domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (int, error) {
	changed := 0
	for id, p := range r.st.payments {
		if p.TransactionID != transactionID || !slices.Contains(from, p.Status) {
			continue
		}
		p.Status = to
		p.UpdatedAt = at
		r.st.payments[id] = p
		changed++
	}
	return changed, nil
}

func (r *paymentRepository) ListExpirable(_ context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	result := make([]domain.Payment, 0)
	for _, p := range r.st.payments {
		if domain.PaymentExpired(p, now) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
