package plans

import (
	"context"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/models"
)

// Plan tiers.
const (
	TierFree  = "free"
	TierBasic = "basic"
	TierPro   = "pro"
)

// Plan describes what a subscription tier entitles a user to. The
// concurrency limit counts tasks in pending or processing.
type Plan struct {
	Tier             string `json:"tier"`
	Name             string `json:"name"`
	MonthlyCredits   int    `json:"monthly_credits"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
	PriceCentsMonth  int    `json:"price_cents_month"`
}

var plansByTier = map[string]Plan{
	TierFree:  {Tier: TierFree, Name: "Free Plan", MonthlyCredits: 50, ConcurrencyLimit: 1, PriceCentsMonth: 0},
	TierBasic: {Tier: TierBasic, Name: "Basic Plan", MonthlyCredits: 1000, ConcurrencyLimit: 3, PriceCentsMonth: 1200},
	TierPro:   {Tier: TierPro, Name: "Pro Plan", MonthlyCredits: 2200, ConcurrencyLimit: 5, PriceCentsMonth: 2400},
}

// ByTier returns the plan for a tier, falling back to the free plan for
// unknown tiers so a bad row can never unlock unlimited concurrency.
func ByTier(tier string) Plan {
	if p, ok := plansByTier[tier]; ok {
		return p
	}
	return plansByTier[TierFree]
}

// All returns every plan in display order.
func All() []Plan {
	return []Plan{plansByTier[TierFree], plansByTier[TierBasic], plansByTier[TierPro]}
}

// SubscriptionLookup resolves a user's active subscription, nil when none.
type SubscriptionLookup interface {
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// Registry maps a user to their effective plan. Plan changes apply to new
// submissions only; in-flight reservations are never re-priced.
type Registry struct {
	subs SubscriptionLookup
}

func NewRegistry(subs SubscriptionLookup) *Registry {
	return &Registry{subs: subs}
}

// GetPlan returns the plan of the user's active subscription, or the free
// plan when the user has no active subscription.
func (r *Registry) GetPlan(ctx context.Context, userID uuid.UUID) (Plan, error) {
	sub, err := r.subs.GetActiveByUserID(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	if sub == nil {
		return ByTier(TierFree), nil
	}
	return ByTier(sub.Tier), nil
}
