package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const deliveryColumns = `id, transaction_id, customer_id, kind, package_id, status, created_at, updated_at`

type deliveryRepository struct {
	q querier
}

// CreateIfAbsent опирается на уникальность (transaction_id, kind, package_id).
func (r *deliveryRepository) CreateIfAbsent(ctx context.Context, rec domain.DeliveryRecord) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO delivery_records (`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (transaction_id, kind, package_id) DO NOTHING
	`,
		rec.ID, rec.TransactionID, rec.CustomerID, string(rec.Kind), rec.PackageID,
		string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, domain.ErrAlreadyExists
		}
		return false, fmt.Errorf("insert delivery record: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *deliveryRepository) Get(ctx context.Context, id string) (domain.DeliveryRecord, error) {
	rec, err := scanDelivery(r.q.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM delivery_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DeliveryRecord{}, domain.ErrDeliveryNotFound
		}
		return domain.DeliveryRecord{}, fmt.Errorf("select delivery record: %w", err)
	}
	return rec, nil
}

func (r *deliveryRepository) ListByTransaction(ctx context.Context, transactionID string) ([]domain.DeliveryRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM delivery_records
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}
	return result, nil
}

func (r *deliveryRepository) TransitionStatus(ctx context.Context, id string, from []domain.DeliveryStatus, to domain.DeliveryStatus, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), at, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("update delivery status: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanDelivery(row rowScanner) (domain.DeliveryRecord, error) {
	var (
		rec          domain.DeliveryRecord
		kind, status string
	)
	if err := row.Scan(
		&rec.ID, &rec.TransactionID, &rec.CustomerID, &kind, &rec.PackageID,
		&status, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.DeliveryRecord{}, err
	}
	rec.Kind = domain.DeliveryKind(kind)
	rec.Status = domain.DeliveryStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

type subscriptionRepository struct {
	q querier
}

// Get блокирует строку подписки до конца транзакции, чтобы продления не терялись.
func (r *subscriptionRepository) Get(ctx context.Context, customerID, packageID string) (domain.ServiceSubscription, error) {
	var sub domain.ServiceSubscription
	err := r.q.QueryRowContext(ctx, `
		SELECT customer_id, package_id, expired_at, created_at, updated_at
		FROM service_subscriptions
		WHERE customer_id = $1 AND package_id = $2
		FOR UPDATE
	`, customerID, packageID).Scan(&sub.CustomerID, &sub.PackageID, &sub.ExpiredAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ServiceSubscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.ServiceSubscription{}, fmt.Errorf("select subscription: %w", err)
	}
	sub.ExpiredAt = sub.ExpiredAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

func (r *subscriptionRepository) Upsert(ctx context.Context, sub domain.ServiceSubscription) error {
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO service_subscriptions (customer_id, package_id, expired_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (customer_id, package_id)
		DO UPDATE SET expired_at = EXCLUDED.expired_at, updated_at = EXCLUDED.updated_at
	`, sub.CustomerID, sub.PackageID, sub.ExpiredAt, sub.CreatedAt, sub.UpdatedAt); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

var (
	_ domain.DeliveryRepository     = (*deliveryRepository)(nil)
	_ domain.SubscriptionRepository = (*subscriptionRepository)(nil)
)
