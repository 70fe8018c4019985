package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvivid/backend/internal/models"
)

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, tier, status, monthly_credits, external_subscription_id,
	start_date, end_date, last_grant_period, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.Tier, &s.Status, &s.MonthlyCredits, &s.ExternalSubscriptionID,
		&s.StartDate, &s.EndDate, &s.LastGrantPeriod, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepo) Create(ctx context.Context, s *models.Subscription) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, tier, status, monthly_credits, external_subscription_id, start_date, end_date, last_grant_period)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, s.ID, s.UserID, s.Tier, s.Status, s.MonthlyCredits, s.ExternalSubscriptionID, s.StartDate, s.EndDate, s.LastGrantPeriod).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetActiveByUserID returns the user's active subscription, or nil.
func (r *SubscriptionRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1
	`, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// GetByExternalID resolves a subscription by the payment provider's id.
func (r *SubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE external_subscription_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, externalID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListDueForGrant returns active subscriptions that have not yet been
// granted credits for the given period.
func (r *SubscriptionRepo) ListDueForGrant(ctx context.Context, periodKey string) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND last_grant_period <> $1
	`, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SubscriptionRepo) SetLastGrantPeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, periodKey string) error {
	_, err := tx.Exec(ctx, `
		UPDATE subscriptions SET last_grant_period = $2, updated_at = now() WHERE id = $1
	`, id, periodKey)
	return err
}

// Activate marks the subscription active with the given period bounds.
func (r *SubscriptionRepo) Activate(ctx context.Context, tx pgx.Tx, s *models.Subscription) error {
	_, err := tx.Exec(ctx, `
		UPDATE subscriptions SET status = 'active', start_date = $2, end_date = $3, updated_at = now()
		WHERE id = $1
	`, s.ID, s.StartDate, s.EndDate)
	return err
}
