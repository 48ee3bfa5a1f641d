package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type deliveryRepository struct {
	st *state
}

// CreateIfAbsent создаёт запись, если записи с тем же (транзакция, вид, пакет) ещё нет.
func (r *deliveryRepository) CreateIfAbsent(_ context.Context, rec domain.DeliveryRecord) (bool, error) {
	for _, existing := range r.st.deliveries {
		if existing.TransactionID == rec.TransactionID &&
			existing.Kind == rec.Kind &&
			existing.PackageID == rec.PackageID {
			return false, nil
		}
	}
	if _, exists := r.st.deliveries[rec.ID]; exists {
		return false, domain.ErrAlreadyExists
	}
	r.st.deliveries[rec.ID] = rec
	return true, nil
}

func (r *deliveryRepository) Get(_ context.Context, id string) (domain.DeliveryRecord, error) {
	rec, ok := r.st.deliveries[id]
	if !ok {
		return domain.DeliveryRecord{}, domain.ErrDeliveryNotFound
	}
	return rec, nil
}

func (r *deliveryRepository) ListByTransaction(_ context.Context, transactionID string) ([]domain.DeliveryRecord, error) {
	result := make([]domain.DeliveryRecord, 0)
	for _, rec := range r.st.deliveries {
		if rec.TransactionID == transactionID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *deliveryRepository) TransitionStatus(_ context.Context, id string, from []domain.DeliveryStatus, to domain.DeliveryStatus, at time.Time) (bool, error) {
	rec, ok := r.st.deliveries[id]
	if !ok {
		return false, domain.ErrDeliveryNotFound
	}
	if !slices.Contains(from, rec.Status) {
		return false, nil
	}
	rec.Status = to
	rec.UpdatedAt = at
	r.st.deliveries[id] = rec
	return true, nil
}

type subscriptionRepository struct {
	st *state
}

func (r *subscriptionRepository) Get(_ context.Context, customerID, packageID string) (domain.ServiceSubscription, error) {
	sub, ok := r.st.subscriptions[subscriptionKey{customerID: customerID, packageID: packageID}]
	if !ok {
		return domain.ServiceSubscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (r *subscriptionRepository) Upsert(_ context.Context, sub domain.ServiceSubscription) error {
	key := subscriptionKey{customerID: sub.CustomerID, packageID: sub.PackageID}
	if existing, ok := r.st.subscriptions[key]; ok && !existing.CreatedAt.IsZero() {
		sub.CreatedAt = existing.CreatedAt
	}
	r.st.subscriptions[key] = sub
	return nil
}

var (
	_ domain.DeliveryRepository     = (*deliveryRepository)(nil)
	_ domain.SubscriptionRepository = (*subscriptionRepository)(nil)
)
