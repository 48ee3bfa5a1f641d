package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	paymentColumns = `
	id, transaction_id, amount, service_fee, method, status, expires_at,
	external_id, payment_url, admin_notes, admin_user_id, action_date,
	created_at, updated_at`

	pendingPaymentIndex = "uq_payments_single_pending"
)

type paymentRepository struct {
	q querier
}

func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		p.ID, p.TransactionID, p.Amount, p.ServiceFee, p.Method, string(p.Status), p.ExpiresAt,
		nullString(p.ExternalID), nullString(p.PaymentURL), nullString(p.AdminNotes),
		nullString(p.AdminUserID), nullTime(p.ActionDate), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if constraintName(err) == pendingPaymentIndex {
				return domain.ErrPendingPaymentExists
			}
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *paymentRepository) GetByExternalID(ctx context.Context, externalID string) (domain.Payment, error) {
	if externalID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID)
}

func (r *paymentRepository) Latest(ctx context.Context, transactionID string) (domain.Payment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, transactionID)
}

func (r *paymentRepository) TransitionStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus, approval *domain.Approval, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if approval != nil {
		res, err = r.q.ExecContext(ctx, `
			UPDATE payments
			SET status = $2, updated_at = $3, admin_user_id = $5, admin_notes = $6, action_date = $3
			WHERE id = $1 AND status = ANY($4)
		`, id, string(to), at, statusStrings(from), nullString(approval.AdminUserID), nullString(approval.Notes))
	} else {
		res, err = r.q.ExecContext(ctx, `
			UPDATE payments
			SET status = $2, updated_at = $3
			WHERE id = $1 AND status = ANY($4)
		`, id, string(to), at, statusStrings(from))
	}
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}

	n, err := affectedRows(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	if !exists {
		return false, domain.ErrPaymentNotFound
	}
	return false, nil
}

func (r *paymentRepository) TransitionByTransaction(ctx context.Context, transactionID string, from []domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, updated_at = $3
		WHERE transaction_id = $1 AND status = ANY($4)
	`, transactionID, string(to), at, statusStrings(from))
	if err != nil {
		return 0, fmt.Errorf("update payments by transaction: %w", err)
	}
	return affectedRows(res)
}

func (r *paymentRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable payments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Payment, 0, limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return result, nil
}

func (r *paymentRepository) getOne(ctx context.Context, query string, args ...any) (domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p                                        domain.Payment
		status                                   string
		externalID, paymentURL, notes, adminUser sql.NullString
		actionDate                               sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.TransactionID, &p.Amount, &p.ServiceFee, &p.Method, &status, &p.ExpiresAt,
		&externalID, &paymentURL, &notes, &adminUser, &actionDate,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.ExternalID = externalID.String
	p.PaymentURL = paymentURL.String
	p.AdminNotes = notes.String
	p.AdminUserID = adminUser.String
	if actionDate.Valid {
		p.ActionDate = actionDate.Time.UTC()
	}
	p.ExpiresAt = p.ExpiresAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
