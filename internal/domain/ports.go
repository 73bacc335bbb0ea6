package domain

import (
	"context"
	"time"
)

// Scope is the caller's tenancy context, resolved upstream by the auth/session
// provider and threaded explicitly through every core call. A nil LocationID
// means tenant-wide access; restricted roles carry their single location.
type Scope struct {
	TenantID   string
	LocationID *int64
}

func (s Scope) AllowsLocation(id int64) bool {
	return s.LocationID == nil || *s.LocationID == id
}

type BillingRepository interface {
	// Write paths
	ReplaceTiers(ctx context.Context, scope Scope, locationID int64, tiers []PricingTier) error

	// Read paths
	GetLocation(ctx context.Context, scope Scope, id int64) (Location, error)
	GetTicket(ctx context.Context, scope Scope, id int64) (Ticket, error)
}

// PaymentRepository is the ledger's storage port. The mutation methods load
// the row under a per-payment lock, re-apply the domain transition, and
// persist atomically, so interleaved writers cannot break the refund
// invariant. Mutations that replay an already-applied gateway reference
// return the current row unchanged.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, scope Scope, id string) (Payment, error)
	ListPayments(ctx context.Context, scope Scope, q PaymentsQuery) ([]Payment, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)

	MarkLinkSent(ctx context.Context, scope Scope, id string) (Payment, error)
	MarkCompleted(ctx context.Context, scope Scope, id, gatewayRef string, at time.Time) (Payment, error)
	MarkFailed(ctx context.Context, scope Scope, id string) (Payment, error)
	ApplyRefund(ctx context.Context, scope Scope, id string, r Refund) (Payment, error)
}

type PaymentsQuery struct {
	Status     *PaymentStatus
	LocationID *int64
	Limit      int
}

// PaymentGateway is the external payment provider. Its identifiers are
// opaque strings stored verbatim; it is the source of truth for settlement.
type PaymentGateway interface {
	CreateChargeLink(ctx context.Context, amountCents Money, metadata map[string]string) (ChargeLink, error)
	Refund(ctx context.Context, chargeRef string, amountCents Money) (RefundReceipt, error)
	GetCharge(ctx context.Context, linkID string) (ChargeState, error)
}

type ChargeLink struct {
	LinkID     string
	ProductRef string
	URL        string
}

type RefundReceipt struct {
	RefundRef string
}

// ChargeState is the gateway-side view of a charge link, used by the
// reconciler to repair locally stale payments.
type ChargeState struct {
	Paid       bool
	Expired    bool
	GatewayRef string
}

// Notifier delivers a payment link to the customer (SMS channel).
type Notifier interface {
	SendPaymentLink(ctx context.Context, phone, url string) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
