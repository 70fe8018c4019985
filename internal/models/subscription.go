package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status enums.
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
	SubscriptionPending   = "pending"
)

// Subscription ties a user to a paid plan tier and records when the current
// billing period last received its monthly credit grant.
type Subscription struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	Tier                   string     `json:"tier"`
	Status                 string     `json:"status"`
	MonthlyCredits         int        `json:"monthly_credits"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	StartDate              *time.Time `json:"start_date,omitempty"`
	EndDate                *time.Time `json:"end_date,omitempty"`
	LastGrantPeriod        string     `json:"last_grant_period,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// PeriodKey formats t as the billing period identifier used by the monthly
// grant/reclaim markers ("2026-08").
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
