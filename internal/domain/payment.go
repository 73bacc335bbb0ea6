package domain

import "time"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusLinkSent  PaymentStatus = "PAYMENT_LINK_SENT"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusRefunded  PaymentStatus = "REFUNDED"
	StatusFailed    PaymentStatus = "FAILED"
)

// Terminal statuses accept no further charge-side transitions. COMPLETED is
// terminal for the charge but still accepts refunds until fully refunded.
func (s PaymentStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment is one ledger row: amount charged, cumulative amount refunded, and
// lifecycle status. Invariant: 0 <= RefundAmountCents <= AmountCents, and
// RefundedAt is set iff RefundAmountCents > 0. Rows are never deleted.
type Payment struct {
	ID                string
	TicketID          int64
	TenantID          string
	LocationID        int64
	Status            PaymentStatus
	AmountCents       Money
	RefundAmountCents Money
	StripeLinkID      string
	StripeProduct     string
	StripeRefundID    string
	Metadata          map[string]string
	CreatedAt         time.Time
	CompletedAt       *time.Time
	RefundedAt        *time.Time
}

// Refund is one row of the refund sub-ledger. StripeRefundID is the gateway's
// reference and is the idempotency key for refund confirmations.
type Refund struct {
	ID             string
	PaymentID      string
	AmountCents    Money
	Reason         *string
	StripeRefundID string
	CreatedAt      time.Time
}

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:   {StatusLinkSent, StatusCompleted, StatusFailed},
	StatusLinkSent:  {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
}

func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (p Payment) RemainingRefundable() Money {
	return p.AmountCents - p.RefundAmountCents
}

func (p *Payment) MarkLinkSent() error {
	if !CanTransition(p.Status, StatusLinkSent) {
		return ErrInvalidTransition
	}
	p.Status = StatusLinkSent
	return nil
}

func (p *Payment) MarkCompleted(gatewayRef string, at time.Time) error {
	if !CanTransition(p.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	p.Status = StatusCompleted
	p.StripeProduct = gatewayRef
	p.CompletedAt = &at
	return nil
}

func (p *Payment) MarkFailed() error {
	if !CanTransition(p.Status, StatusFailed) {
		return ErrInvalidTransition
	}
	p.Status = StatusFailed
	return nil
}

// ApplyRefund records a confirmed refund of amount against the payment.
// Valid only from COMPLETED with a remaining balance; the cumulative refund
// can never exceed the charged amount. Reaching the full amount transitions
// the payment to REFUNDED; anything less keeps it COMPLETED.
func (p *Payment) ApplyRefund(amount Money, refundRef string, at time.Time) error {
	if p.Status != StatusCompleted {
		return ErrInvalidTransition
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > p.RemainingRefundable() {
		return ErrExceedsRefundable
	}
	p.RefundAmountCents += amount
	p.StripeRefundID = refundRef
	p.RefundedAt = &at
	if p.RefundAmountCents == p.AmountCents {
		p.Status = StatusRefunded
	}
	return nil
}
