package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type enums. Amounts are signed: consumption and
// reclaim entries are negative, grants positive. Releasing a hold writes no
// entry at all, so there is no refund type.
const (
	CreditEntryMonthlyGrant   = "monthly_grant"
	CreditEntryMonthlyReclaim = "monthly_reclaim"
	CreditEntryTaskConsume    = "task_consume"
	CreditEntryAdminAdjust    = "admin_adjust"
	CreditEntryPurchase       = "purchase"
	CreditEntryRedeem         = "redeem"
)

// CreditEntry is one append-only ledger row. Replaying a user's entries in
// creation order must reproduce the stored balance exactly.
type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	Description  string     `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Reservation status enums. A hold moves out of "held" exactly once.
const (
	ReservationHeld     = "held"
	ReservationConsumed = "consumed"
	ReservationReleased = "released"
)

// Reservation is a logical hold against a user's balance. It is not a ledger
// entry: available balance = stored balance - sum of held reservations.
type Reservation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TaskID    uuid.UUID `json:"task_id"`
	Amount    int       `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedeemCode is a single-use credit voucher.
type RedeemCode struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	CreditAmount int        `json:"credit_amount"`
	IsUsed       bool       `json:"is_used"`
	UsedBy       *uuid.UUID `json:"used_by,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
