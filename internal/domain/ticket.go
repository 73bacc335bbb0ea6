package domain

import "time"

type RateType string

const (
	RateHourly    RateType = "HOURLY"
	RateOvernight RateType = "OVERNIGHT"
)

// Ticket carries the billing-relevant subset of a valet ticket. Elapsed time
// is derived from CheckInTime by the charge calculator; the ticket does not
// own it.
type Ticket struct {
	ID            int64
	TenantID      string
	LocationID    int64
	RateType      RateType
	CustomerPhone *string
	CheckInTime   time.Time
	CheckOutTime  *time.Time
}

func (t Ticket) Closed() bool { return t.CheckOutTime != nil }
