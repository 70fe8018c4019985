package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/plans"
)

// SubscriptionStore manages subscription rows for the payment webhook.
type SubscriptionStore interface {
	Create(ctx context.Context, s *models.Subscription) error
	GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	Activate(ctx context.Context, tx pgx.Tx, s *models.Subscription) error
	SetLastGrantPeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, periodKey string) error
}

// PlanSetter records the user's plan tier on the user row.
type PlanSetter interface {
	SetPlanTier(ctx context.Context, tx pgx.Tx, id uuid.UUID, tier string) error
}

// WebhookHandler serves /api/v1/webhooks/payment. Signature verification
// happens at the gateway in front of this service; here the payload is
// trusted and the job is to apply it exactly once.
type WebhookHandler struct {
	Pool   TxBeginner
	Ledger Ledger
	Subs   SubscriptionStore
	Users  PlanSetter
	Logger *slog.Logger
}

const (
	eventPaymentSucceeded      = "payment.succeeded"
	eventSubscriptionActivated = "subscription.activated"
)

type paymentEvent struct {
	EventType     string `json:"event_type"`
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Credits       int    `json:"credits"`
	PlanTier      string `json:"plan_tier"`
}

// HandlePayment handles POST /api/v1/webhooks/payment. Providers retry
// webhooks, so every effect is keyed on the provider transaction id and a
// replay answers 200 without changing anything.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	var ev paymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if ev.TransactionID == "" {
		http.Error(w, `{"error":"transaction_id is required"}`, http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}

	switch ev.EventType {
	case eventPaymentSucceeded:
		h.handlePurchase(w, r, userID, ev)
	case eventSubscriptionActivated:
		h.handleActivation(w, r, userID, ev)
	default:
		// Unknown events are acknowledged so the provider stops retrying.
		h.Logger.Info("ignoring payment event", "event_type", ev.EventType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *WebhookHandler) handlePurchase(w http.ResponseWriter, r *http.Request, userID uuid.UUID, ev paymentEvent) {
	if ev.Credits <= 0 {
		http.Error(w, `{"error":"credits must be > 0"}`, http.StatusBadRequest)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin purchase tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	applied, err := h.Ledger.Grant(r.Context(), tx, userID, ev.Credits,
		models.CreditEntryPurchase, ev.TransactionID, "credit purchase")
	if err != nil {
		h.Logger.Error("purchase grant", "user_id", userID, "tx_id", ev.TransactionID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit purchase tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	status := "applied"
	if !applied {
		status = "duplicate"
		h.Logger.Info("duplicate payment webhook", "tx_id", ev.TransactionID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *WebhookHandler) handleActivation(w http.ResponseWriter, r *http.Request, userID uuid.UUID, ev paymentEvent) {
	plan := plans.ByTier(ev.PlanTier)
	if plan.Tier == plans.TierFree && ev.PlanTier != plans.TierFree {
		http.Error(w, `{"error":"unknown plan tier"}`, http.StatusBadRequest)
		return
	}

	existing, err := h.Subs.GetByExternalID(r.Context(), ev.TransactionID)
	if err != nil {
		h.Logger.Error("look up subscription", "tx_id", ev.TransactionID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if existing != nil && existing.Status == models.SubscriptionActive {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	now := time.Now().UTC()
	end := now.AddDate(0, 1, 0)
	sub := existing
	if sub == nil {
		sub = &models.Subscription{
			ID:                     uuid.New(),
			UserID:                 userID,
			Tier:                   plan.Tier,
			Status:                 models.SubscriptionPending,
			MonthlyCredits:         plan.MonthlyCredits,
			ExternalSubscriptionID: ev.TransactionID,
			StartDate:              &now,
			EndDate:                &end,
		}
		if err := h.Subs.Create(r.Context(), sub); err != nil {
			h.Logger.Error("create subscription", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	}
	sub.StartDate = &now
	sub.EndDate = &end

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin activation tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	if err := h.Subs.Activate(r.Context(), tx, sub); err != nil {
		h.Logger.Error("activate subscription", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := h.Users.SetPlanTier(r.Context(), tx, userID, plan.Tier); err != nil {
		h.Logger.Error("set plan tier", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	// First period's credits arrive now. The marker plus last_grant_period
	// keep the hourly billing cycle from touching this period again.
	if _, err := h.Ledger.Grant(r.Context(), tx, userID, plan.MonthlyCredits,
		models.CreditEntryMonthlyGrant, models.PeriodKey(now), "subscription activation credits"); err != nil {
		h.Logger.Error("activation grant", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := h.Subs.SetLastGrantPeriodTx(r.Context(), tx, sub.ID, models.PeriodKey(now)); err != nil {
		h.Logger.Error("record grant period", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit activation tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "activated", "plan": plan.Tier})
}
