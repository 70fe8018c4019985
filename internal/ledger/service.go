// Package ledger implements credit accounting: reservations (holds),
// settlement, grants, and redeem codes. The ledger is append-only; the
// stored balance on the user row is a cache that every entry keeps in sync,
// so replaying a user's entries always reproduces it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docvivid/backend/internal/models"
)

// ErrInsufficientCredit is returned when the available balance (stored
// balance minus outstanding holds) does not cover a reservation.
var ErrInsufficientCredit = errors.New("insufficient credit")

// ErrInvalidCode is returned for an unknown redeem code.
var ErrInvalidCode = errors.New("invalid redeem code")

// ErrAlreadyRedeemed is returned when a code was already claimed, or the
// user already redeemed this code.
var ErrAlreadyRedeemed = errors.New("code already redeemed")

// UserStore is the minimal user repository interface for the ledger.
type UserStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EntryStore appends ledger entries and manages billing period markers.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error
	TryMarkPeriodTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, periodKey string) (bool, error)
}

// ReservationStore manages credit holds.
type ReservationStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, res *models.Reservation) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reservation, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (bool, error)
	SumHeldTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
}

// CodeStore manages redeem codes and their per-user redemption records.
type CodeStore interface {
	GetByCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.RedeemCode, error)
	ClaimCodeTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID) (bool, error)
	InsertRedemptionTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID) (bool, error)
}

// Service performs all balance-affecting operations. Every method runs
// inside the caller's transaction. Reserve, Grant, and Redeem lock the user
// row first, serializing admission per owner; SettleConsume and SettleRelease
// lock the reservation row first, which carries the held → consumed/released
// exactly-once guarantee.
type Service struct {
	Users        UserStore
	Entries      EntryStore
	Reservations ReservationStore
	Codes        CodeStore
}

func NewService(users UserStore, entries EntryStore, reservations ReservationStore, codes CodeStore) *Service {
	return &Service{Users: users, Entries: entries, Reservations: reservations, Codes: codes}
}

// Balance is the three balance views of one user.
type Balance struct {
	Stored    int `json:"balance"`
	Held      int `json:"held"`
	Available int `json:"available"`
}

// BalanceTx reads the user's balance with the row locked so the held sum is
// consistent with the stored balance.
func (s *Service) BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (Balance, error) {
	u, err := s.Users.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return Balance{}, err
	}
	held, err := s.Reservations.SumHeldTx(ctx, tx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Stored: u.CreditBalance, Held: held, Available: u.CreditBalance - held}, nil
}

// Reserve places a hold of amount against the user's available balance. The
// hold is not a ledger entry; nothing is subtracted from the stored balance
// until the task settles successfully.
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount int) (*models.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve amount must be > 0, got %d", amount)
	}
	u, err := s.Users.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	held, err := s.Reservations.SumHeldTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if u.CreditBalance-held < amount {
		return nil, ErrInsufficientCredit
	}
	res := &models.Reservation{
		ID:     uuid.New(),
		UserID: userID,
		TaskID: taskID,
		Amount: amount,
		Status: models.ReservationHeld,
	}
	if err := s.Reservations.CreateTx(ctx, tx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SettleConsume converts a hold into a task_consume ledger entry for the
// full reserved amount. Retried settlements are no-ops: once the
// reservation leaves "held" nothing happens again.
func (s *Service) SettleConsume(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := s.Reservations.GetByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != models.ReservationHeld {
		return nil
	}
	if _, err := s.Users.GetByIDForUpdate(ctx, tx, res.UserID); err != nil {
		return err
	}
	newBalance, err := s.Users.DeductCredits(ctx, tx, res.UserID, res.Amount)
	if err != nil {
		// The hold guarantees stored balance >= held sum >= amount,
		// so a failed conditional deduct means the books are broken.
		return fmt.Errorf("consume reservation %s: deduct %d credits: %w", res.ID, res.Amount, err)
	}
	if _, err := s.Reservations.SetStatusTx(ctx, tx, res.ID, models.ReservationConsumed); err != nil {
		return err
	}
	return s.Entries.CreateTx(ctx, tx, &models.CreditEntry{
		ID:           uuid.New(),
		UserID:       res.UserID,
		TaskID:       &res.TaskID,
		EntryType:    models.CreditEntryTaskConsume,
		Amount:       -res.Amount,
		BalanceAfter: newBalance,
		Description:  fmt.Sprintf("task %s consumed %d credits", res.TaskID, res.Amount),
	})
}

// SettleRelease drops a hold with no ledger entry: no credit was ever
// subtracted from the stored balance, so a failed or cancelled task leaves
// the balance exactly where it was before submission. Idempotent.
func (s *Service) SettleRelease(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := s.Reservations.GetByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != models.ReservationHeld {
		return nil
	}
	_, err = s.Reservations.SetStatusTx(ctx, tx, res.ID, models.ReservationReleased)
	return err
}

// Grant applies a signed credit adjustment with a ledger entry. When
// periodKey is non-empty the grant is idempotent by (user, kind, periodKey):
// the second call for the same key is a successful no-op and returns false.
func (s *Service) Grant(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, kind, periodKey, description string) (bool, error) {
	if _, err := s.Users.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return false, err
	}
	if periodKey != "" {
		applied, err := s.Entries.TryMarkPeriodTx(ctx, tx, userID, kind, periodKey)
		if err != nil {
			return false, err
		}
		if !applied {
			return false, nil
		}
	}
	newBalance, err := s.Users.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return false, err
	}
	err = s.Entries.CreateTx(ctx, tx, &models.CreditEntry{
		ID:           uuid.New(),
		UserID:       userID,
		EntryType:    kind,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Redeem claims a single-use code for the user and credits its amount.
// The redemption record's (code, user) uniqueness plus the conditional
// claim make this exactly-once even under concurrent attempts.
func (s *Service) Redeem(ctx context.Context, tx pgx.Tx, userID uuid.UUID, code string) (int, error) {
	// Lock the user row first; every ledger path takes it before any other
	// lock, which keeps lock ordering deadlock-free.
	if _, err := s.Users.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return 0, err
	}
	c, err := s.Codes.GetByCodeTx(ctx, tx, code)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, ErrInvalidCode
	}
	inserted, err := s.Codes.InsertRedemptionTx(ctx, tx, code, userID)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return 0, ErrAlreadyRedeemed
	}
	claimed, err := s.Codes.ClaimCodeTx(ctx, tx, code, userID)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrAlreadyRedeemed
	}
	newBalance, err := s.Users.AddCredits(ctx, tx, userID, c.CreditAmount)
	if err != nil {
		return 0, err
	}
	err = s.Entries.CreateTx(ctx, tx, &models.CreditEntry{
		ID:           uuid.New(),
		UserID:       userID,
		EntryType:    models.CreditEntryRedeem,
		Amount:       c.CreditAmount,
		BalanceAfter: newBalance,
		Description:  fmt.Sprintf("redeemed code %s for %d credits", code, c.CreditAmount),
	})
	if err != nil {
		return 0, err
	}
	return c.CreditAmount, nil
}
