package app

import (
	"context"
	"time"

	"valetops/internal/domain"
)

// ReportingService exposes the ledger's read side: payment listings and the
// aggregated metrics report. Reports are cached briefly; ledger mutations
// evict them.
type ReportingService struct {
	payments domain.PaymentRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewReportingService(p domain.PaymentRepository, c domain.Cache, ttl time.Duration) *ReportingService {
	return &ReportingService{payments: p, cache: c, cacheTTL: ttl}
}

func (s *ReportingService) ListPayments(ctx context.Context, scope domain.Scope, q domain.PaymentsQuery) ([]domain.Payment, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	return s.payments.ListPayments(ctx, scope, q)
}

// PaymentsReport aggregates a consistent snapshot of the scope's payments.
func (s *ReportingService) PaymentsReport(ctx context.Context, scope domain.Scope) (domain.PaymentsMetrics, error) {
	key := reportKey(scope.TenantID, scope.LocationID)
	var m domain.PaymentsMetrics
	if ok, _ := s.cache.Get(ctx, key, &m); ok {
		return m, nil
	}
	ps, err := s.payments.ListPayments(ctx, scope, domain.PaymentsQuery{LocationID: scope.LocationID, Limit: -1})
	if err != nil {
		return domain.PaymentsMetrics{}, err
	}
	m = domain.AggregatePayments(ps)
	_ = s.cache.Set(ctx, key, m, int(s.cacheTTL.Seconds()))
	return m, nil
}
