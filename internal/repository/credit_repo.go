package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvivid/backend/internal/models"
)

// CreditRepo manages the append-only credit ledger and the billing period
// markers. Ledger rows are never mutated or deleted.
type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, task_id, entry_type, amount, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.UserID, c.TaskID, c.EntryType, c.Amount, c.BalanceAfter, c.Description).Scan(&c.CreatedAt)
}

// ListByUserID returns a page of the user's ledger, newest first.
func (r *CreditRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, task_id, entry_type, amount, balance_after, description, created_at
		FROM credit_ledger WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.CreditEntry
	for rows.Next() {
		var c models.CreditEntry
		if err := rows.Scan(&c.ID, &c.UserID, &c.TaskID, &c.EntryType, &c.Amount, &c.BalanceAfter, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

// LastEntryByTypeTx returns the user's most recent entry of entryType bound
// to the given subscription grant kind, or nil. Used by the billing runner to
// size the monthly reclaim.
func (r *CreditRepo) LastEntryByTypeTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entryType string) (*models.CreditEntry, error) {
	var c models.CreditEntry
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, task_id, entry_type, amount, balance_after, description, created_at
		FROM credit_ledger WHERE user_id = $1 AND entry_type = $2
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, userID, entryType).Scan(&c.ID, &c.UserID, &c.TaskID, &c.EntryType, &c.Amount, &c.BalanceAfter, &c.Description, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TryMarkPeriodTx records that (user, kind, period) has been applied.
// Returns false without error when the marker already exists, making
// grant/reclaim idempotent under duplicate triggers.
func (r *CreditRepo) TryMarkPeriodTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, periodKey string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO billing_period_markers (user_id, kind, period_key)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, kind, periodKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
