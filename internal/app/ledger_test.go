package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"valetops/internal/app"
	"valetops/internal/domain"
)

// ---- fakes ----

// fakePayments mirrors the MySQL repo's contract: every mutation runs under
// a per-store lock, re-applies the domain transition, and treats a replayed
// gateway reference as a no-op.
type fakePayments struct {
	mu         sync.Mutex
	byID       map[string]domain.Payment
	refundRefs map[string]bool
}

func newFakePayments() *fakePayments {
	return &fakePayments{byID: map[string]domain.Payment{}, refundRefs: map[string]bool{}}
}

func (f *fakePayments) CreatePayment(ctx context.Context, p domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
	return nil
}

func (f *fakePayments) GetPayment(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != scope.TenantID {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePayments) ListPayments(ctx context.Context, scope domain.Scope, q domain.PaymentsQuery) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.byID {
		if p.TenantID == scope.TenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePayments) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	return nil, nil
}

func (f *fakePayments) MarkLinkSent(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != scope.TenantID {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err := p.MarkLinkSent(); err != nil {
		return domain.Payment{}, err
	}
	f.byID[id] = p
	return p, nil
}

func (f *fakePayments) MarkCompleted(ctx context.Context, scope domain.Scope, id, gatewayRef string, at time.Time) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != scope.TenantID {
		return domain.Payment{}, domain.ErrNotFound
	}
	if p.Status == domain.StatusCompleted && p.StripeProduct == gatewayRef {
		return p, nil // replayed confirmation
	}
	if err := p.MarkCompleted(gatewayRef, at); err != nil {
		return domain.Payment{}, err
	}
	f.byID[id] = p
	return p, nil
}

func (f *fakePayments) MarkFailed(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != scope.TenantID {
		return domain.Payment{}, domain.ErrNotFound
	}
	if p.Status == domain.StatusFailed {
		return p, nil
	}
	if err := p.MarkFailed(); err != nil {
		return domain.Payment{}, err
	}
	f.byID[id] = p
	return p, nil
}

func (f *fakePayments) ApplyRefund(ctx context.Context, scope domain.Scope, id string, r domain.Refund) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != scope.TenantID {
		return domain.Payment{}, domain.ErrNotFound
	}
	if f.refundRefs[r.StripeRefundID] {
		return p, nil // already applied
	}
	if err := p.ApplyRefund(r.AmountCents, r.StripeRefundID, r.CreatedAt); err != nil {
		return domain.Payment{}, err
	}
	f.refundRefs[r.StripeRefundID] = true
	f.byID[id] = p
	return p, nil
}

type fakeBilling struct {
	loc     domain.Location
	ticket  domain.Ticket
	tierLog [][]domain.PricingTier
}

func (f *fakeBilling) ReplaceTiers(ctx context.Context, scope domain.Scope, locationID int64, tiers []domain.PricingTier) error {
	f.tierLog = append(f.tierLog, tiers)
	f.loc.PricingTiers = tiers
	return nil
}
func (f *fakeBilling) GetLocation(ctx context.Context, scope domain.Scope, id int64) (domain.Location, error) {
	return f.loc, nil
}
func (f *fakeBilling) GetTicket(ctx context.Context, scope domain.Scope, id int64) (domain.Ticket, error) {
	return f.ticket, nil
}

type fakeGateway struct {
	mu          sync.Mutex
	failRefund  bool
	refundCalls int
	linkCalls   int
}

func (g *fakeGateway) CreateChargeLink(ctx context.Context, amount domain.Money, meta map[string]string) (domain.ChargeLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkCalls++
	return domain.ChargeLink{
		LinkID:     fmt.Sprintf("plink_%d", g.linkCalls),
		ProductRef: fmt.Sprintf("prod_%d", g.linkCalls),
		URL:        "https://pay.test/abc",
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, chargeRef string, amount domain.Money) (domain.RefundReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRefund {
		return domain.RefundReceipt{}, errors.New("remote 502")
	}
	g.refundCalls++
	return domain.RefundReceipt{RefundRef: fmt.Sprintf("re_%d", g.refundCalls)}, nil
}

func (g *fakeGateway) GetCharge(ctx context.Context, linkID string) (domain.ChargeState, error) {
	return domain.ChargeState{}, nil
}

type fakeNotifier struct {
	fail  bool
	sends int
}

func (n *fakeNotifier) SendPaymentLink(ctx context.Context, phone, url string) error {
	if n.fail {
		return errors.New("sms gateway down")
	}
	n.sends++
	return nil
}

type fakeCache struct{ store map[string]any }

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) { return false, nil }
func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error { return nil }

// ---- helpers ----

func ledgerFixture(t *testing.T) (*app.LedgerService, *fakePayments, *fakeGateway, *fakeNotifier) {
	t.Helper()
	repo := newFakePayments()
	gw := &fakeGateway{}
	nt := &fakeNotifier{}
	billing := &fakeBilling{
		ticket: domain.Ticket{ID: 7, TenantID: "t1", LocationID: 3, RateType: domain.RateHourly, CustomerPhone: pstr("+15550001111")},
	}
	return app.NewLedgerService(repo, billing, gw, nt, &fakeCache{}), repo, gw, nt
}

func pstr(s string) *string { return &s }

func pmoney(m domain.Money) *domain.Money { return &m }

func scope() domain.Scope { return domain.Scope{TenantID: "t1"} }

func completedFixture(t *testing.T) (*app.LedgerService, *fakePayments, *fakeGateway, string) {
	t.Helper()
	svc, repo, gw, _ := ledgerFixture(t)
	p, err := svc.CreatePaymentLink(context.Background(), scope(), 7, 5000)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if _, err := svc.MarkCompleted(context.Background(), scope(), p.ID, "ch_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return svc, repo, gw, p.ID
}

// ---- tests ----

func TestCreatePaymentLink(t *testing.T) {
	svc, repo, gw, nt := ledgerFixture(t)

	p, err := svc.CreatePaymentLink(context.Background(), scope(), 7, 2500)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Status != domain.StatusLinkSent {
		t.Fatalf("SMS delivered, expected PAYMENT_LINK_SENT, got %s", p.Status)
	}
	if p.StripeLinkID == "" || p.StripeProduct == "" {
		t.Fatalf("gateway refs not stored: %+v", p)
	}
	if gw.linkCalls != 1 || nt.sends != 1 {
		t.Fatalf("calls: gw=%d sms=%d", gw.linkCalls, nt.sends)
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), p.ID)
	if stored.Status != domain.StatusLinkSent || stored.AmountCents != 2500 {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestCreatePaymentLink_InvalidAmount(t *testing.T) {
	svc, _, gw, _ := ledgerFixture(t)
	for _, amt := range []domain.Money{0, -50} {
		if _, err := svc.CreatePaymentLink(context.Background(), scope(), 7, amt); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("amount %d: got %v", amt, err)
		}
	}
	if gw.linkCalls != 0 {
		t.Fatalf("gateway must not be called for invalid amounts")
	}
}

func TestCreatePaymentLink_SMSFailureKeepsPending(t *testing.T) {
	svc, repo, _, nt := ledgerFixture(t)
	nt.fail = true

	p, err := svc.CreatePaymentLink(context.Background(), scope(), 7, 2500)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Status != domain.StatusPending {
		t.Fatalf("expected PENDING on failed SMS, got %s", p.Status)
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), p.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestRefund_FullByDefault(t *testing.T) {
	svc, repo, _, id := completedFixture(t)

	p, err := svc.Refund(context.Background(), scope(), id, nil, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Status != domain.StatusRefunded || p.RefundAmountCents != 5000 {
		t.Fatalf("unexpected: %+v", p)
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), id)
	if stored.RefundedAt == nil || stored.StripeRefundID == "" {
		t.Fatalf("refund bookkeeping missing: %+v", stored)
	}
}

func TestRefund_PartialKeepsCompleted(t *testing.T) {
	svc, _, _, id := completedFixture(t)

	p, err := svc.Refund(context.Background(), scope(), id, pmoney(1500), pstr("damaged bumper"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Status != domain.StatusCompleted || p.RefundAmountCents != 1500 {
		t.Fatalf("unexpected: %+v", p)
	}

	// refunding the exact remainder closes it out
	p, err = svc.Refund(context.Background(), scope(), id, pmoney(3500), nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Status != domain.StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", p.Status)
	}
}

func TestRefund_Validation(t *testing.T) {
	svc, _, gw, id := completedFixture(t)

	if _, err := svc.Refund(context.Background(), scope(), id, pmoney(0), nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v", err)
	}
	if _, err := svc.Refund(context.Background(), scope(), id, pmoney(5001), nil); !errors.Is(err, domain.ErrExceedsRefundable) {
		t.Fatalf("got %v", err)
	}
	if gw.refundCalls != 0 {
		t.Fatalf("gateway must not be called for rejected refunds")
	}
}

func TestRefund_GatewayFailureLeavesLedgerUnchanged(t *testing.T) {
	svc, repo, gw, id := completedFixture(t)
	gw.failRefund = true

	_, err := svc.Refund(context.Background(), scope(), id, pmoney(1000), nil)
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), id)
	if stored.RefundAmountCents != 0 || stored.Status != domain.StatusCompleted || stored.RefundedAt != nil {
		t.Fatalf("ledger mutated on gateway failure: %+v", stored)
	}
}

func TestRefund_ConcurrentNeverOverRefunds(t *testing.T) {
	svc, repo, _, id := completedFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Refund(context.Background(), scope(), id, pmoney(1000), nil)
		}()
	}
	wg.Wait()

	stored, _ := repo.GetPayment(context.Background(), scope(), id)
	if stored.RefundAmountCents > stored.AmountCents {
		t.Fatalf("over-refunded: %d > %d", stored.RefundAmountCents, stored.AmountCents)
	}
}

func TestHandleGatewayEvent_RefundIdempotent(t *testing.T) {
	svc, repo, _, id := completedFixture(t)

	ev := app.GatewayEvent{
		Type:        app.EventRefundConfirmed,
		PaymentID:   id,
		TenantID:    "t1",
		RefundRef:   "re_webhook_1",
		AmountCents: 2000,
	}
	for i := 0; i < 3; i++ {
		if err := svc.HandleGatewayEvent(context.Background(), ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), id)
	if stored.RefundAmountCents != 2000 {
		t.Fatalf("replayed refund applied more than once: %d", stored.RefundAmountCents)
	}
}

func TestHandleGatewayEvent_CompletedIdempotent(t *testing.T) {
	svc, repo, _, _ := ledgerFixture(t)
	p, err := svc.CreatePaymentLink(context.Background(), scope(), 7, 3000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ev := app.GatewayEvent{Type: app.EventChargeCompleted, PaymentID: p.ID, TenantID: "t1", GatewayRef: "ch_9"}
	for i := 0; i < 2; i++ {
		if err := svc.HandleGatewayEvent(context.Background(), ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	stored, _ := repo.GetPayment(context.Background(), scope(), p.ID)
	if stored.Status != domain.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("unexpected: %+v", stored)
	}
}
