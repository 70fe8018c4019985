package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/models"
)

func TestByTierFallsBackToFree(t *testing.T) {
	if got := ByTier("enterprise"); got.Tier != TierFree {
		t.Errorf("unknown tier resolved to %q, want %q", got.Tier, TierFree)
	}
	if got := ByTier(TierPro); got.ConcurrencyLimit != 5 {
		t.Errorf("pro concurrency limit = %d, want 5", got.ConcurrencyLimit)
	}
}

func TestAllInDisplayOrder(t *testing.T) {
	all := All()
	if len(all) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(all))
	}
	want := []string{TierFree, TierBasic, TierPro}
	for i, tier := range want {
		if all[i].Tier != tier {
			t.Errorf("plan %d tier = %q, want %q", i, all[i].Tier, tier)
		}
	}
}

type stubSubs struct {
	sub *models.Subscription
}

func (s *stubSubs) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.sub, nil
}

func TestGetPlanNoSubscription(t *testing.T) {
	r := NewRegistry(&stubSubs{})
	p, err := r.GetPlan(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if p.Tier != TierFree {
		t.Errorf("tier = %q, want %q", p.Tier, TierFree)
	}
}

func TestGetPlanActiveSubscription(t *testing.T) {
	r := NewRegistry(&stubSubs{sub: &models.Subscription{Tier: TierBasic}})
	p, err := r.GetPlan(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if p.MonthlyCredits != 1000 {
		t.Errorf("monthly credits = %d, want 1000", p.MonthlyCredits)
	}
}
