package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvivid/backend/internal/models"
)

type RedeemRepo struct {
	pool *pgxpool.Pool
}

func NewRedeemRepo(pool *pgxpool.Pool) *RedeemRepo {
	return &RedeemRepo{pool: pool}
}

func (r *RedeemRepo) CreateCode(ctx context.Context, c *models.RedeemCode) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO redeem_codes (id, code, credit_amount)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, c.ID, c.Code, c.CreditAmount).Scan(&c.CreatedAt)
}

// GetByCodeTx returns the code row, or nil for an unknown code.
func (r *RedeemRepo) GetByCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.RedeemCode, error) {
	var c models.RedeemCode
	err := tx.QueryRow(ctx, `
		SELECT id, code, credit_amount, is_used, used_by, used_at, created_at
		FROM redeem_codes WHERE code = $1
	`, code).Scan(&c.ID, &c.Code, &c.CreditAmount, &c.IsUsed, &c.UsedBy, &c.UsedAt, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClaimCodeTx marks the code used by userID. Returns false when the code was
// already claimed; the conditional update makes concurrent claims race-safe.
func (r *RedeemRepo) ClaimCodeTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE redeem_codes SET is_used = TRUE, used_by = $2, used_at = now()
		WHERE code = $1 AND is_used = FALSE
	`, code, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertRedemptionTx records (code, user). The primary key enforces
// exactly-once credit per code per owner; a conflict means a duplicate.
func (r *RedeemRepo) InsertRedemptionTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO code_redemptions (code, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, code, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
