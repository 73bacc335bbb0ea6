package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"valetops/internal/app"
	"valetops/internal/domain"
)

// memCache actually stores values, unlike fakeCache; used to verify the
// cache-aside read paths.
type memCache struct{ store map[string]any }

func (c *memCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *domain.Location:
		*d = v.(domain.Location)
	case *domain.PaymentsMetrics:
		*d = v.(domain.PaymentsMetrics)
	default:
		return false, nil
	}
	return true, nil
}

func (c *memCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *memCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	return nil
}

func pint(i int) *int { return &i }

func billingFixture() (*app.BillingService, *fakeBilling, *memCache) {
	repo := &fakeBilling{
		loc: domain.Location{
			ID:       3,
			TenantID: "t1",
			PricingTiers: []domain.PricingTier{
				{MaxHours: pint(2), RateCents: 1000, InOutPrivileges: true},
				{MaxHours: nil, RateCents: 4000},
			},
		},
		ticket: domain.Ticket{
			ID:          7,
			TenantID:    "t1",
			LocationID:  3,
			RateType:    domain.RateHourly,
			CheckInTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	cache := &memCache{}
	return app.NewBillingService(repo, cache, 10*time.Minute), repo, cache
}

func TestGetLocation_CacheMissThenHit(t *testing.T) {
	svc, repo, _ := billingFixture()

	loc, err := svc.GetLocation(context.Background(), scope(), 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(loc.PricingTiers) != 2 {
		t.Fatalf("unexpected location: %+v", loc)
	}

	// mutate repo to prove the second read is served from cache
	repo.loc.PricingTiers = nil
	loc2, err := svc.GetLocation(context.Background(), scope(), 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(loc2.PricingTiers) != 2 {
		t.Fatalf("expected cached tiers, got %+v", loc2.PricingTiers)
	}
}

func TestReplaceTiers_RejectsInvalidTable(t *testing.T) {
	svc, repo, _ := billingFixture()

	bad := []domain.PricingTier{
		{MaxHours: pint(4), RateCents: 2000},
		{MaxHours: pint(4), RateCents: 3000},
	}
	if err := svc.ReplaceTiers(context.Background(), scope(), 3, bad); !errors.Is(err, domain.ErrDuplicateTierBound) {
		t.Fatalf("got %v, want ErrDuplicateTierBound", err)
	}
	if len(repo.tierLog) != 0 {
		t.Fatalf("invalid table reached storage")
	}
}

func TestReplaceTiers_EvictsCachedLocation(t *testing.T) {
	svc, repo, cache := billingFixture()

	if _, err := svc.GetLocation(context.Background(), scope(), 3); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	next := []domain.PricingTier{
		{MaxHours: pint(1), RateCents: 500},
		{MaxHours: pint(3), RateCents: 1200},
	}
	if err := svc.ReplaceTiers(context.Background(), scope(), 3, next); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(repo.tierLog) != 1 {
		t.Fatalf("write did not reach storage")
	}
	if len(cache.store) != 0 {
		t.Fatalf("stale location still cached: %v", cache.store)
	}

	loc, err := svc.GetLocation(context.Background(), scope(), 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(loc.PricingTiers) != 2 || *loc.PricingTiers[0].MaxHours != 1 {
		t.Fatalf("expected new schedule, got %+v", loc.PricingTiers)
	}
}

func TestProjectedCharge_UsesCheckoutForClosedTickets(t *testing.T) {
	svc, repo, _ := billingFixture()
	out := repo.ticket.CheckInTime.Add(90 * time.Minute)
	repo.ticket.CheckOutTime = &out

	// `at` far in the future must be ignored for a closed ticket
	q, err := svc.ProjectedCharge(context.Background(), scope(), 7, out.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if q.ElapsedHours != 2 || q.AmountCents != 1000 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestInOutPrivileges(t *testing.T) {
	svc, repo, _ := billingFixture()

	ok, err := svc.InOutPrivileges(context.Background(), scope(), 7)
	if err != nil || !ok {
		t.Fatalf("hourly with granting bounded tier: %v %v", ok, err)
	}

	repo.ticket.RateType = domain.RateOvernight
	repo.loc.OvernightInOutPrivileges = pbool(false)
	// location was cached by the first call; drop it so the new flag is seen
	if err := svc.ReplaceTiers(context.Background(), scope(), 3, repo.loc.PricingTiers); err != nil {
		t.Fatalf("evict: %v", err)
	}
	ok, err = svc.InOutPrivileges(context.Background(), scope(), 7)
	if err != nil || ok {
		t.Fatalf("overnight flag false must deny: %v %v", ok, err)
	}
}

func pbool(b bool) *bool { return &b }

func TestPaymentsReport_CachesAggregate(t *testing.T) {
	repo := newFakePayments()
	_ = repo.CreatePayment(context.Background(), domain.Payment{ID: "a", TenantID: "t1", Status: domain.StatusCompleted, AmountCents: 4000})
	_ = repo.CreatePayment(context.Background(), domain.Payment{ID: "b", TenantID: "t1", Status: domain.StatusPending, AmountCents: 1000})
	_ = repo.CreatePayment(context.Background(), domain.Payment{ID: "c", TenantID: "other", Status: domain.StatusCompleted, AmountCents: 9999})

	cache := &memCache{}
	svc := app.NewReportingService(repo, cache, time.Minute)

	m, err := svc.PaymentsReport(context.Background(), scope())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if m.TotalCount != 2 || m.CompletedAmountCents != 4000 || m.PendingAmountCents != 1000 {
		t.Fatalf("unexpected metrics (tenant leak?): %+v", m)
	}

	// second read comes from cache
	_ = repo.CreatePayment(context.Background(), domain.Payment{ID: "d", TenantID: "t1", Status: domain.StatusCompleted, AmountCents: 777})
	m2, err := svc.PaymentsReport(context.Background(), scope())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if m2.TotalCount != 2 {
		t.Fatalf("expected cached report, got %+v", m2)
	}
}
