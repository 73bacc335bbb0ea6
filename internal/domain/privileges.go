package domain

// HasInOutPrivileges decides whether the customer may take the car out and
// re-park without closing the ticket. The two rate types deliberately use
// different rules; downstream messaging depends on each path as-is, so do
// not unify them:
//
//   - OVERNIGHT: the location's overnight flag wins when set; otherwise the
//     tail tier stands in for the overnight rate; with neither, no privileges.
//   - HOURLY: privileges are a location-wide capability — granted if ANY
//     bounded tier grants them, regardless of which tier the ticket currently
//     occupies.
func HasInOutPrivileges(t Ticket, loc Location) bool {
	if t.RateType == RateOvernight {
		if loc.OvernightInOutPrivileges != nil {
			return *loc.OvernightInOutPrivileges
		}
		if tail := loc.TailTier(); tail != nil {
			return tail.InOutPrivileges
		}
		return false
	}
	for _, tier := range loc.PricingTiers {
		if !tier.Unbounded() && tier.InOutPrivileges {
			return true
		}
	}
	return false
}
