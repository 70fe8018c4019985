// Package billing runs the monthly credit cycle: reclaim what is left of the
// previous period's grant, then grant the new period's credits. The cycle is
// driven by a periodic queue job and is safe to trigger any number of times
// per period.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/models"
)

// CycleArgs is the periodic billing job payload; it carries nothing, the
// period is derived from the clock at work time.
type CycleArgs struct{}

func (CycleArgs) Kind() string { return "billing_cycle" }

// SubscriptionStore lists subscriptions due for the current period and
// records the grant.
type SubscriptionStore interface {
	ListDueForGrant(ctx context.Context, periodKey string) ([]*models.Subscription, error)
	SetLastGrantPeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, periodKey string) error
}

// EntrySource reads back past ledger entries.
type EntrySource interface {
	LastEntryByTypeTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entryType string) (*models.CreditEntry, error)
}

// Ledger is the slice of the ledger service billing drives.
type Ledger interface {
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (ledger.Balance, error)
	Grant(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, kind, periodKey, description string) (bool, error)
}

// TxBeginner starts a transaction, typically *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CycleWorker applies the billing cycle to every due subscription.
type CycleWorker struct {
	river.WorkerDefaults[CycleArgs]
	db      TxBeginner
	subs    SubscriptionStore
	entries EntrySource
	ledger  Ledger
	logger  *slog.Logger
	now     func() time.Time
}

func NewCycleWorker(db TxBeginner, subs SubscriptionStore, entries EntrySource, creditLedger Ledger, logger *slog.Logger) *CycleWorker {
	return &CycleWorker{db: db, subs: subs, entries: entries, ledger: creditLedger, logger: logger, now: time.Now}
}

func (w *CycleWorker) Work(ctx context.Context, _ *river.Job[CycleArgs]) error {
	periodKey := models.PeriodKey(w.now())

	due, err := w.subs.ListDueForGrant(ctx, periodKey)
	if err != nil {
		return fmt.Errorf("list subscriptions due for %s: %w", periodKey, err)
	}

	failed := 0
	for _, sub := range due {
		if err := w.applyCycle(ctx, sub, periodKey); err != nil {
			// One broken subscription must not stall everyone else's
			// grant; the next cycle run picks it up again.
			w.logger.Error("billing cycle failed for subscription",
				"subscription_id", sub.ID, "user_id", sub.UserID, "period", periodKey, "error", err)
			failed++
		}
	}
	if len(due) > 0 {
		w.logger.Info("billing cycle finished",
			"period", periodKey, "processed", len(due)-failed, "failed", failed)
	}
	if failed > 0 {
		return fmt.Errorf("billing cycle %s: %d of %d subscriptions failed", periodKey, failed, len(due))
	}
	return nil
}

// applyCycle runs reclaim-then-grant for one subscription in one
// transaction. The period markers inside Grant make a concurrent or repeated
// trigger a no-op, so at worst a duplicate run re-reads and writes nothing.
func (w *CycleWorker) applyCycle(ctx context.Context, sub *models.Subscription, periodKey string) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	bal, err := w.ledger.BalanceTx(ctx, tx, sub.UserID)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	lastGrant, err := w.entries.LastEntryByTypeTx(ctx, tx, sub.UserID, models.CreditEntryMonthlyGrant)
	if err != nil {
		return fmt.Errorf("read last grant: %w", err)
	}
	if lastGrant != nil {
		// Reclaim at most what the previous grant gave and never more
		// than is still available, so held reservations stay covered.
		reclaim := lastGrant.Amount
		if bal.Available < reclaim {
			reclaim = bal.Available
		}
		if reclaim > 0 {
			if _, err := w.ledger.Grant(ctx, tx, sub.UserID, -reclaim,
				models.CreditEntryMonthlyReclaim, periodKey, "expire unused credits from previous period"); err != nil {
				return fmt.Errorf("reclaim: %w", err)
			}
		}
	}

	if _, err := w.ledger.Grant(ctx, tx, sub.UserID, sub.MonthlyCredits,
		models.CreditEntryMonthlyGrant, periodKey, "monthly subscription credits"); err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if err := w.subs.SetLastGrantPeriodTx(ctx, tx, sub.ID, periodKey); err != nil {
		return fmt.Errorf("record grant period: %w", err)
	}
	return tx.Commit(ctx)
}
