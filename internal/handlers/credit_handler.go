package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lithammer/shortuuid/v4"

	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/middleware"
	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/plans"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger is the subset of the credit ledger the handlers use.
type Ledger interface {
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (ledger.Balance, error)
	Grant(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, kind, periodKey, description string) (bool, error)
	Redeem(ctx context.Context, tx pgx.Tx, userID uuid.UUID, code string) (int, error)
}

// EntryLister pages through a user's ledger entries.
type EntryLister interface {
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditEntry, error)
}

// CodeMinter stores freshly minted redeem codes.
type CodeMinter interface {
	CreateCode(ctx context.Context, c *models.RedeemCode) error
}

// CreditHandler serves /api/v1/credits and /api/v1/admin endpoints.
type CreditHandler struct {
	Pool    TxBeginner
	Ledger  Ledger
	Entries EntryLister
	Codes   CodeMinter
	Logger  *slog.Logger
}

// --- GET /api/v1/credits/balance ---

// GetBalance handles GET /api/v1/credits/balance.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin balance tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	bal, err := h.Ledger.BalanceTx(r.Context(), tx, user.ID)
	if err != nil {
		h.Logger.Error("read balance", "user_id", user.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit balance tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// --- GET /api/v1/credits/transactions ---

// ListTransactions handles GET /api/v1/credits/transactions?page=&page_size=.
func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	entries, err := h.Entries.ListByUserID(r.Context(), user.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		h.Logger.Error("list transactions", "user_id", user.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"page":         page,
		"page_size":    pageSize,
	})
}

// --- POST /api/v1/credits/redeem ---

type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem handles POST /api/v1/credits/redeem.
func (h *CreditHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, `{"error":"code is required"}`, http.StatusBadRequest)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin redeem tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	amount, err := h.Ledger.Redeem(r.Context(), tx, user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidCode):
			http.Error(w, `{"error":"invalid code"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrAlreadyRedeemed):
			http.Error(w, `{"error":"code already redeemed"}`, http.StatusConflict)
		default:
			h.Logger.Error("redeem code", "user_id", user.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit redeem tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits_added": amount})
}

// --- GET /api/v1/plans ---

// ListPlans handles GET /api/v1/plans (public, no auth).
func ListPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, plans.All())
}

// --- POST /api/v1/admin/credits/grant ---

type adminGrantRequest struct {
	UserID      string `json:"user_id"`
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

// AdminGrant handles POST /api/v1/admin/credits/grant. The amount is signed;
// negative values deduct.
func (h *CreditHandler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		http.Error(w, `{"error":"amount must be non-zero"}`, http.StatusBadRequest)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin grant tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	if _, err := h.Ledger.Grant(r.Context(), tx, userID, req.Amount,
		models.CreditEntryAdminAdjust, "", req.Description); err != nil {
		h.Logger.Error("admin grant", "user_id", userID, "error", err)
		http.Error(w, `{"error":"grant failed"}`, http.StatusInternalServerError)
		return
	}
	bal, err := h.Ledger.BalanceTx(r.Context(), tx, userID)
	if err != nil {
		h.Logger.Error("read balance after grant", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit grant tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	admin := middleware.UserFromCtx(r.Context())
	h.Logger.Info("admin credit adjustment",
		"admin_id", admin.ID, "user_id", userID, "amount", req.Amount)
	writeJSON(w, http.StatusOK, bal)
}

// --- POST /api/v1/admin/redeem-codes ---

type mintCodesRequest struct {
	CreditAmount int `json:"credit_amount"`
	Count        int `json:"count"`
}

// MintCodes handles POST /api/v1/admin/redeem-codes.
func (h *CreditHandler) MintCodes(w http.ResponseWriter, r *http.Request) {
	var req mintCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.CreditAmount <= 0 {
		http.Error(w, `{"error":"credit_amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if req.Count < 1 {
		req.Count = 1
	}
	if req.Count > 100 {
		http.Error(w, `{"error":"count must be <= 100"}`, http.StatusBadRequest)
		return
	}

	codes := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		c := &models.RedeemCode{
			ID:           uuid.New(),
			Code:         shortuuid.New(),
			CreditAmount: req.CreditAmount,
		}
		if err := h.Codes.CreateCode(r.Context(), c); err != nil {
			h.Logger.Error("mint redeem code", "error", err)
			http.Error(w, `{"error":"failed to mint codes"}`, http.StatusInternalServerError)
			return
		}
		codes = append(codes, c.Code)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"codes":         codes,
		"credit_amount": req.CreditAmount,
	})
}
