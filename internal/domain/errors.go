package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// Tier-table configuration errors. These reject the write or charge
	// attempt outright; the engine never guesses a rate.
	ErrInvalidTierOrder   = errors.New("pricing tiers out of order")
	ErrDuplicateTierBound = errors.New("duplicate tier bound")
	ErrNoApplicableTier   = errors.New("no applicable pricing tier")

	// Ledger misuse.
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrExceedsRefundable = errors.New("refund exceeds refundable balance")
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// GatewayError marks a failed remote call to the payment gateway. The caller
// decides whether to retry; the ledger record is guaranteed untouched.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }
