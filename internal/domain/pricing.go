package domain

// PricingTier is one (duration bound, rate) step of a location's schedule.
// MaxHours == nil marks the unbounded tail tier (the overnight-equivalent).
type PricingTier struct {
	MaxHours        *int
	RateCents       Money
	InOutPrivileges bool
}

func (t PricingTier) Unbounded() bool { return t.MaxHours == nil }

type Location struct {
	ID                       int64
	TenantID                 string
	Name                     string
	TaxRateBasisPoints       int
	HotelSharePoints         int
	OvernightRateCents       Money
	OvernightInOutPrivileges *bool
	PricingTiers             []PricingTier
}

// TailTier returns the unbounded tier, if the table has one.
func (l Location) TailTier() *PricingTier {
	for i := range l.PricingTiers {
		if l.PricingTiers[i].Unbounded() {
			return &l.PricingTiers[i]
		}
	}
	return nil
}

// ValidateTiers enforces the tier-table invariants: bounded tiers sorted
// strictly ascending by MaxHours with positive bounds, no shared bound, and
// at most one unbounded tier, which must be last. Runs on every tier write;
// ResolveRate assumes sortedness and never re-sorts.
func ValidateTiers(tiers []PricingTier) error {
	seenTail := false
	prev := 0
	for _, t := range tiers {
		if seenTail {
			// anything after the tail tier is out of order
			return ErrInvalidTierOrder
		}
		if t.Unbounded() {
			seenTail = true
			continue
		}
		if *t.MaxHours <= 0 {
			return ErrInvalidTierOrder
		}
		if *t.MaxHours == prev {
			return ErrDuplicateTierBound
		}
		if *t.MaxHours < prev {
			return ErrInvalidTierOrder
		}
		prev = *t.MaxHours
	}
	return nil
}

// ResolveRate scans tiers in ascending order and returns the rate and in/out
// flag of the first tier whose bound covers elapsedHours. Boundaries are
// inclusive: exactly 2 elapsed hours lands in a MaxHours=2 tier. Falls back to
// the unbounded tail tier; with no applicable tier at all it fails rather than
// defaulting to zero.
func ResolveRate(tiers []PricingTier, elapsedHours int) (Money, bool, error) {
	for _, t := range tiers {
		if t.Unbounded() || *t.MaxHours >= elapsedHours {
			return t.RateCents, t.InOutPrivileges, nil
		}
	}
	return 0, false, ErrNoApplicableTier
}
