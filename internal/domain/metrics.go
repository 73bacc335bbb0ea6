package domain

// PaymentsMetrics is a pure projection over a payment snapshot; it is derived
// on demand and never persisted. Completed amounts are gross (as charged);
// TotalRefundedAmountCents sums refunds across every status, partials
// included, so a caller gets gross, refunded, and net in one pass.
type PaymentsMetrics struct {
	TotalCount               int
	CompletedCount           int
	CompletedAmountCents     Money
	PendingCount             int
	PendingAmountCents       Money
	RefundedCount            int
	RefundedAmountCents      Money
	TotalRefundedAmountCents Money
}

// NetCollectedCents is a display value: gross completed minus all refunds.
func (m PaymentsMetrics) NetCollectedCents() Money {
	return m.CompletedAmountCents - m.TotalRefundedAmountCents
}

// AggregatePayments buckets a snapshot in a single pass. Every status other
// than COMPLETED and REFUNDED counts as pending.
func AggregatePayments(ps []Payment) PaymentsMetrics {
	var m PaymentsMetrics
	for _, p := range ps {
		m.TotalCount++
		m.TotalRefundedAmountCents += p.RefundAmountCents
		switch p.Status {
		case StatusCompleted:
			m.CompletedCount++
			m.CompletedAmountCents += p.AmountCents
		case StatusRefunded:
			m.RefundedCount++
			m.RefundedAmountCents += p.AmountCents
		default:
			m.PendingCount++
			m.PendingAmountCents += p.AmountCents
		}
	}
	return m
}
