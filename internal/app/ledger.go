package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"valetops/internal/adapters/observability"
	"valetops/internal/domain"
)

// LedgerService owns every payment mutation. Gateway calls always happen
// before the local write and outside any row lock; a failed gateway call
// leaves the ledger untouched.
type LedgerService struct {
	payments domain.PaymentRepository
	billing  domain.BillingRepository
	gateway  domain.PaymentGateway
	notifier domain.Notifier
	cache    domain.Cache
}

func NewLedgerService(p domain.PaymentRepository, b domain.BillingRepository, g domain.PaymentGateway, n domain.Notifier, c domain.Cache) *LedgerService {
	return &LedgerService{payments: p, billing: b, gateway: g, notifier: n, cache: c}
}

// CreatePaymentLink requests a charge link from the gateway and records a
// PENDING payment for it. If the SMS to the customer goes out, the payment
// advances to PAYMENT_LINK_SENT; a failed send is logged and left for retry,
// the link itself stays valid.
func (s *LedgerService) CreatePaymentLink(ctx context.Context, scope domain.Scope, ticketID int64, amount domain.Money) (domain.Payment, error) {
	if amount <= 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	tk, err := s.billing.GetTicket(ctx, scope, ticketID)
	if err != nil {
		return domain.Payment{}, err
	}

	id := uuid.NewString()
	meta := map[string]string{
		"payment_id": id,
		"tenant_id":  scope.TenantID,
		"ticket_id":  strconv.FormatInt(ticketID, 10),
	}
	link, err := s.gateway.CreateChargeLink(ctx, amount, meta)
	if err != nil {
		return domain.Payment{}, &domain.GatewayError{Op: "create_charge_link", Err: err}
	}

	p := domain.Payment{
		ID:            id,
		TicketID:      ticketID,
		TenantID:      scope.TenantID,
		LocationID:    tk.LocationID,
		Status:        domain.StatusPending,
		AmountCents:   amount,
		StripeLinkID:  link.LinkID,
		StripeProduct: link.ProductRef,
		Metadata:      meta,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return domain.Payment{}, err
	}
	s.invalidateReports(ctx, scope, tk.LocationID)

	// best-effort delivery; the customer can still be resent the link
	if tk.CustomerPhone != nil && *tk.CustomerPhone != "" {
		if nerr := s.notifier.SendPaymentLink(ctx, *tk.CustomerPhone, link.URL); nerr != nil {
			log.Warn().Str("payment_id", id).Err(nerr).Msg("payment link SMS failed")
			return p, nil
		}
		sent, err := s.payments.MarkLinkSent(ctx, scope, id)
		if err != nil {
			return p, err
		}
		observability.ObserveLedgerTransition(string(sent.Status))
		return sent, nil
	}
	return p, nil
}

// MarkCompleted applies a gateway-confirmed charge. Valid from PENDING and
// PAYMENT_LINK_SENT only; replaying the same gateway reference is a no-op.
func (s *LedgerService) MarkCompleted(ctx context.Context, scope domain.Scope, paymentID, gatewayRef string) (domain.Payment, error) {
	p, err := s.payments.MarkCompleted(ctx, scope, paymentID, gatewayRef, time.Now().UTC())
	if err != nil {
		return domain.Payment{}, err
	}
	observability.ObserveLedgerTransition(string(domain.StatusCompleted))
	s.invalidateReports(ctx, scope, p.LocationID)
	return p, nil
}

// Refund executes a refund at the gateway and records it. amount == nil
// refunds the full remaining balance. The repo re-validates the refund
// invariant under the row lock, so concurrent attempts serialize and the
// cumulative refund can never exceed the charge.
func (s *LedgerService) Refund(ctx context.Context, scope domain.Scope, paymentID string, amount *domain.Money, reason *string) (domain.Payment, error) {
	p, err := s.payments.GetPayment(ctx, scope, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.Status != domain.StatusCompleted {
		return domain.Payment{}, domain.ErrInvalidTransition
	}
	remaining := p.RemainingRefundable()
	if remaining <= 0 {
		return domain.Payment{}, domain.ErrInvalidTransition
	}

	amt := remaining
	if amount != nil {
		amt = *amount
	}
	if amt <= 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	if amt > remaining {
		return domain.Payment{}, domain.ErrExceedsRefundable
	}

	// remote call first; local state changes only after confirmed success
	receipt, err := s.gateway.Refund(ctx, p.StripeProduct, amt)
	if err != nil {
		return domain.Payment{}, &domain.GatewayError{Op: "refund", Err: err}
	}

	updated, err := s.payments.ApplyRefund(ctx, scope, paymentID, domain.Refund{
		ID:             uuid.NewString(),
		PaymentID:      paymentID,
		AmountCents:    amt,
		Reason:         reason,
		StripeRefundID: receipt.RefundRef,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Payment{}, err
	}
	observability.ObserveLedgerTransition(string(updated.Status))
	s.invalidateReports(ctx, scope, updated.LocationID)
	return updated, nil
}

// GatewayEvent is a normalized webhook notification from the payment
// provider. Events may arrive out of order or more than once.
type GatewayEvent struct {
	Type        string
	PaymentID   string
	TenantID    string
	GatewayRef  string
	RefundRef   string
	AmountCents domain.Money
}

const (
	EventChargeCompleted = "payment_link.completed"
	EventRefundConfirmed = "refund.confirmed"
	EventLinkExpired     = "payment_link.expired"
)

// HandleGatewayEvent applies a webhook callback idempotently: replays keyed
// on the same gateway reference change nothing.
func (s *LedgerService) HandleGatewayEvent(ctx context.Context, ev GatewayEvent) error {
	scope := domain.Scope{TenantID: ev.TenantID}
	switch ev.Type {
	case EventChargeCompleted:
		p, err := s.payments.MarkCompleted(ctx, scope, ev.PaymentID, ev.GatewayRef, time.Now().UTC())
		if err != nil {
			return err
		}
		s.invalidateReports(ctx, scope, p.LocationID)
		return nil
	case EventRefundConfirmed:
		p, err := s.payments.ApplyRefund(ctx, scope, ev.PaymentID, domain.Refund{
			ID:             uuid.NewString(),
			PaymentID:      ev.PaymentID,
			AmountCents:    ev.AmountCents,
			StripeRefundID: ev.RefundRef,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		s.invalidateReports(ctx, scope, p.LocationID)
		return nil
	case EventLinkExpired:
		p, err := s.payments.MarkFailed(ctx, scope, ev.PaymentID)
		if err != nil {
			return err
		}
		s.invalidateReports(ctx, scope, p.LocationID)
		return nil
	default:
		return fmt.Errorf("unknown gateway event type %q", ev.Type)
	}
}

// Reconcile re-polls the gateway for one locally stale payment and applies
// the authoritative provider state through the idempotent entry points.
func (s *LedgerService) Reconcile(ctx context.Context, p domain.Payment) error {
	if p.Status != domain.StatusPending && p.Status != domain.StatusLinkSent {
		return nil
	}
	state, err := s.gateway.GetCharge(ctx, p.StripeLinkID)
	if err != nil {
		return &domain.GatewayError{Op: "get_charge", Err: err}
	}
	scope := domain.Scope{TenantID: p.TenantID}
	switch {
	case state.Paid:
		_, err = s.payments.MarkCompleted(ctx, scope, p.ID, state.GatewayRef, time.Now().UTC())
	case state.Expired:
		_, err = s.payments.MarkFailed(ctx, scope, p.ID)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	s.invalidateReports(ctx, scope, p.LocationID)
	return nil
}

func (s *LedgerService) invalidateReports(ctx context.Context, scope domain.Scope, locationID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, reportKey(scope.TenantID, nil))
	_ = s.cache.Del(ctx, reportKey(scope.TenantID, &locationID))
}

func reportKey(tenantID string, locationID *int64) string {
	if locationID == nil {
		return fmt.Sprintf("report:%s:all", tenantID)
	}
	return fmt.Sprintf("report:%s:%d", tenantID, *locationID)
}
