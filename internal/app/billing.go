package app

import (
	"context"
	"fmt"
	"time"

	"valetops/internal/domain"
)

// BillingService covers the tier table and charge projection. Tier writes
// validate the full table before it reaches storage; the resolver relies on
// sortedness and never re-sorts.
type BillingService struct {
	repo     domain.BillingRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewBillingService(r domain.BillingRepository, c domain.Cache, ttl time.Duration) *BillingService {
	return &BillingService{repo: r, cache: c, cacheTTL: ttl}
}

func locationKey(tenantID string, id int64) string {
	return fmt.Sprintf("location:%s:%d", tenantID, id)
}

func (s *BillingService) GetLocation(ctx context.Context, scope domain.Scope, id int64) (domain.Location, error) {
	key := locationKey(scope.TenantID, id)
	var loc domain.Location
	if ok, _ := s.cache.Get(ctx, key, &loc); ok {
		return loc, nil
	}
	loc, err := s.repo.GetLocation(ctx, scope, id)
	if err != nil {
		return domain.Location{}, err
	}
	_ = s.cache.Set(ctx, key, loc, int(s.cacheTTL.Seconds()))
	return loc, nil
}

// ReplaceTiers swaps a location's whole tier table. Rejected tables never
// reach storage, and the cached copy is evicted so in-flight projections
// stop seeing the old schedule on their next load. Already-created payment
// links keep their resolved amount regardless.
func (s *BillingService) ReplaceTiers(ctx context.Context, scope domain.Scope, locationID int64, tiers []domain.PricingTier) error {
	if err := domain.ValidateTiers(tiers); err != nil {
		return err
	}
	if err := s.repo.ReplaceTiers(ctx, scope, locationID, tiers); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, locationKey(scope.TenantID, locationID))
	return nil
}

// ProjectedCharge prices a ticket as of `at` (its checkout time for closed
// tickets, now for open ones) against a single snapshot of the location.
func (s *BillingService) ProjectedCharge(ctx context.Context, scope domain.Scope, ticketID int64, at time.Time) (domain.ChargeQuote, error) {
	tk, err := s.repo.GetTicket(ctx, scope, ticketID)
	if err != nil {
		return domain.ChargeQuote{}, err
	}
	loc, err := s.GetLocation(ctx, scope, tk.LocationID)
	if err != nil {
		return domain.ChargeQuote{}, err
	}
	if tk.CheckOutTime != nil {
		at = *tk.CheckOutTime
	}
	return domain.QuoteCharge(tk, loc, at)
}

// InOutPrivileges answers whether the customer may take the car out without
// closing the ticket; messaging flows branch on this.
func (s *BillingService) InOutPrivileges(ctx context.Context, scope domain.Scope, ticketID int64) (bool, error) {
	tk, err := s.repo.GetTicket(ctx, scope, ticketID)
	if err != nil {
		return false, err
	}
	loc, err := s.GetLocation(ctx, scope, tk.LocationID)
	if err != nil {
		return false, err
	}
	return domain.HasInOutPrivileges(tk, loc), nil
}
