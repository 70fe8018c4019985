package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvivid/backend/internal/models"
)

// ReservationRepo manages credit holds. A hold is a row, not a ledger entry;
// it leaves "held" exactly once.
type ReservationRepo struct {
	pool *pgxpool.Pool
}

func NewReservationRepo(pool *pgxpool.Pool) *ReservationRepo {
	return &ReservationRepo{pool: pool}
}

const reservationColumns = `id, user_id, task_id, amount, status, created_at, updated_at`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(&res.ID, &res.UserID, &res.TaskID, &res.Amount, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepo) CreateTx(ctx context.Context, tx pgx.Tx, res *models.Reservation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_reservations (id, user_id, task_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, res.ID, res.UserID, res.TaskID, res.Amount, res.Status).Scan(&res.CreatedAt, &res.UpdatedAt)
}

// GetByIDForUpdate locks the reservation row so settlement serializes with
// any concurrent settle or release of the same hold.
func (r *ReservationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reservation, error) {
	return scanReservation(tx.QueryRow(ctx, `
		SELECT `+reservationColumns+` FROM credit_reservations WHERE id = $1 FOR UPDATE
	`, id))
}

// SetStatusTx flips a held reservation to consumed or released. Returns
// false when the reservation already left "held" (settlement retry).
func (r *ReservationRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE credit_reservations SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'held'
	`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SumHeldTx totals the user's outstanding holds. Call with the user row
// locked: available balance = stored balance - this sum.
func (r *ReservationRepo) SumHeldTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var total int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_reservations
		WHERE user_id = $1 AND status = 'held'
	`, userID).Scan(&total)
	return total, err
}
