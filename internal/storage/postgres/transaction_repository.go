package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const transactionColumns = `
	id, user_id, original_amount, discount_amount, total_after_discount,
	service_fee_amount, final_amount, status, currency, voucher_id, expires_at,
	created_at, updated_at`

type transactionRepository struct {
	q querier
}

func (r *transactionRepository) Create(ctx context.Context, t domain.Transaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		t.ID, t.UserID, t.OriginalAmount, t.DiscountAmount, t.TotalAfterDiscount,
		t.ServiceFeeAmount, t.FinalAmount, string(t.Status), string(t.Currency),
		nullString(t.VoucherID), nullTime(t.ExpiresAt), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	position := 0
	insertLine := func(id, kind, ref string, qty int32, price int64, duration any, status domain.LineStatus) error {
		position++
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO transaction_lines (
				id, transaction_id, kind, ref_id, quantity, unit_price, duration, status, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, id, t.ID, kind, ref, qty, price, duration, string(status), position); err != nil {
			return fmt.Errorf("insert %s line: %w", kind, err)
		}
		return nil
	}

	for _, p := range t.Products {
		if err := insertLine(p.ID, string(domain.LineKindProduct), p.PackageID, p.Quantity, p.UnitPrice, nil, p.Status); err != nil {
			return err
		}
	}
	for _, a := range t.Addons {
		if err := insertLine(a.ID, string(domain.LineKindAddon), a.AddonID, a.Quantity, a.UnitPrice, nil, a.Status); err != nil {
			return err
		}
	}
	if wa := t.Whatsapp; wa != nil {
		if err := insertLine(wa.ID, string(domain.LineKindWhatsapp), wa.PackageID, 1, wa.Price, string(wa.Duration), wa.Status); err != nil {
			return err
		}
	}

	return nil
}

func (r *transactionRepository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("select transaction: %w", err)
	}

	byID := map[string]*domain.Transaction{t.ID: &t}
	if err := r.loadLines(ctx, []string{t.ID}, byID); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(result))
	byID := make(map[string]*domain.Transaction, len(result))
	for i := range result {
		ids = append(ids, result[i].ID)
		byID[result[i].ID] = &result[i]
	}
	if err := r.loadLines(ctx, ids, byID); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *transactionRepository) TransitionStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), at, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *transactionRepository) UpdateAmounts(ctx context.Context, id string, serviceFee, finalAmount int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET service_fee_amount = $2, final_amount = $3, updated_at = $4
		WHERE id = $1
	`, id, serviceFee, finalAmount, at)
	if err != nil {
		return fmt.Errorf("update transaction amounts: %w", err)
	}
	n, err := affectedRows(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id
		FROM transactions
		WHERE status IN ('created', 'pending')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable transactions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expirable transaction: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable transactions: %w", err)
	}
	return ids, nil
}

func (r *transactionRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check transaction exists: %w", err)
	}
	if !exists {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionRepository) loadLines(ctx context.Context, ids []string, byID map[string]*domain.Transaction) error {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, transaction_id, kind, ref_id, quantity, unit_price, duration, status
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("select transaction lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, trxID, kind, ref, status string
			qty                          int32
			price                        int64
			duration                     sql.NullString
		)
		if err := rows.Scan(&id, &trxID, &kind, &ref, &qty, &price, &duration, &status); err != nil {
			return fmt.Errorf("scan transaction line: %w", err)
		}

		t, ok := byID[trxID]
		if !ok {
			continue
		}
		switch domain.LineKind(kind) {
		case domain.LineKindProduct:
			t.Products = append(t.Products, domain.ProductLine{
				ID: id, TransactionID: trxID, PackageID: ref, Quantity: qty, UnitPrice: price, Status: domain.LineStatus(status),
			})
		case domain.LineKindAddon:
			t.Addons = append(t.Addons, domain.AddonLine{
				ID: id, TransactionID: trxID, AddonID: ref, Quantity: qty, UnitPrice: price, Status: domain.LineStatus(status),
			})
		case domain.LineKindWhatsapp:
			t.Whatsapp = &domain.WhatsappLine{
				ID: id, TransactionID: trxID, PackageID: ref, Duration: domain.Duration(duration.String), Price: price, Status: domain.LineStatus(status),
			}
		default:
			return fmt.Errorf("unknown line kind %q for transaction %s", kind, trxID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate transaction lines: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		t                domain.Transaction
		status, currency string
		voucherID        sql.NullString
		expiresAt        sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.OriginalAmount, &t.DiscountAmount, &t.TotalAfterDiscount,
		&t.ServiceFeeAmount, &t.FinalAmount, &status, &currency, &voucherID, &expiresAt,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return domain.Transaction{}, err
	}
	t.Status = domain.TransactionStatus(status)
	t.Currency = domain.Currency(currency)
	t.VoucherID = voucherID.String
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time.UTC()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

type lineRepository struct {
	q querier
}

func (r *lineRepository) TransitionStatus(ctx context.Context, filter domain.LineFilter, from []domain.LineStatus, to domain.LineStatus) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transaction_lines
		SET status = $2
		WHERE transaction_id = $1
		  AND status = ANY($3)
		  AND ($4::text = '' OR kind = $4::text)
		  AND ($5::text = '' OR id = $5::text)
	`, filter.TransactionID, string(to), statusStrings(from), string(filter.Kind), filter.LineID)
	if err != nil {
		return 0, fmt.Errorf("update line status: %w", err)
	}
	return affectedRows(res)
}

var (
	_ domain.TransactionRepository = (*transactionRepository)(nil)
	_ domain.LineRepository        = (*lineRepository)(nil)
)
