package domain

import "time"

// ElapsedHours is the whole-hour duration between checkIn and end, rounded
// up: a valet hour begun is an hour owed. Never negative.
func ElapsedHours(checkIn, end time.Time) int {
	d := end.Sub(checkIn)
	if d <= 0 {
		return 0
	}
	h := int(d / time.Hour)
	if d%time.Hour != 0 {
		h++
	}
	return h
}

// ProjectedAmountCents prices a ticket against its location's tier table at
// nowOrCheckout. An OVERNIGHT ticket with no tail tier is charged the
// location's flat overnight rate without consulting the table. Zero elapsed
// time yields the first tier's rate (minimum charge), never zero.
func ProjectedAmountCents(t Ticket, loc Location, nowOrCheckout time.Time) (Money, error) {
	if t.RateType == RateOvernight && loc.TailTier() == nil {
		return loc.OvernightRateCents, nil
	}
	rate, _, err := ResolveRate(loc.PricingTiers, ElapsedHours(t.CheckInTime, nowOrCheckout))
	if err != nil {
		return 0, err
	}
	return rate, nil
}

// ChargeQuote is the derived display breakdown for a projected charge.
// Tax and hotel share are computed from the location's basis points; only
// AmountCents feeds the ledger.
type ChargeQuote struct {
	TicketID        int64
	ElapsedHours    int
	AmountCents     Money
	TaxCents        Money
	HotelShareCents Money
	TotalCents      Money
	InOutPrivileges bool
}

func QuoteCharge(t Ticket, loc Location, at time.Time) (ChargeQuote, error) {
	amount, err := ProjectedAmountCents(t, loc, at)
	if err != nil {
		return ChargeQuote{}, err
	}
	tax := amount.ApplyBasisPoints(loc.TaxRateBasisPoints)
	return ChargeQuote{
		TicketID:        t.ID,
		ElapsedHours:    ElapsedHours(t.CheckInTime, at),
		AmountCents:     amount,
		TaxCents:        tax,
		HotelShareCents: amount.ApplyBasisPoints(loc.HotelSharePoints),
		TotalCents:      amount + tax,
		InOutPrivileges: HasInOutPrivileges(t, loc),
	}, nil
}
