package repositories

import (
	"context"
	"database/sql"

	"posterBack/internal/models"
)

type PaymentHistoryRepo struct {
	DB *sql.DB
}

// InsertAttempt stores a new dispatched attempt and returns its row id.
func (r *PaymentHistoryRepo) InsertAttempt(ctx context.Context, a models.PaymentAttempt) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO payment_attempts (user_id, session_id, sku_id, order_ref, channel, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id`,
		a.UserID, a.SessionID, a.SKUID, a.OrderRef, a.Channel, a.Amount, a.Status,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MarkStatus records the terminal state of an attempt.
func (r *PaymentHistoryRepo) MarkStatus(ctx context.Context, id int64, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE payment_attempts SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByUser returns the user's attempts, newest first.
func (r *PaymentHistoryRepo) ListByUser(ctx context.Context, userID, limit int) ([]models.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, session_id, sku_id, order_ref, channel, amount, status, created_at, updated_at
		FROM payment_attempts WHERE user_id = $1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentAttempt
	for rows.Next() {
		a, err := scanPaymentAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPaymentAttempt(scanner interface{ Scan(dest ...any) error }) (models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	var updated sql.NullTime
	err := scanner.Scan(&a.ID, &a.UserID, &a.SessionID, &a.SKUID, &a.OrderRef, &a.Channel, &a.Amount, &a.Status, &a.CreatedAt, &updated)
	if err != nil {
		return models.PaymentAttempt{}, err
	}
	if updated.Valid {
		t := updated.Time
		a.UpdatedAt = &t
	}
	return a, nil
}
