package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"valetops/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// -----------------------------------------------------------------------------
// BillingRepository
// -----------------------------------------------------------------------------

func (r *Repo) GetLocation(ctx context.Context, scope domain.Scope, id int64) (domain.Location, error) {
	if !scope.AllowsLocation(id) {
		return domain.Location{}, domain.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, getLocationSQL, id, scope.TenantID)

	var loc domain.Location
	var name sql.NullString
	var overnightInOut sql.NullBool
	if err := row.Scan(
		&loc.ID,
		&loc.TenantID,
		&name,
		&loc.TaxRateBasisPoints,
		&loc.HotelSharePoints,
		&loc.OvernightRateCents,
		&overnightInOut,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Location{}, domain.ErrNotFound
		}
		return domain.Location{}, err
	}
	if name.Valid {
		loc.Name = name.String
	}
	if overnightInOut.Valid {
		b := overnightInOut.Bool
		loc.OvernightInOutPrivileges = &b
	}

	rows, err := r.db.QueryContext(ctx, getTiersSQL, id)
	if err != nil {
		return domain.Location{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.PricingTier
		var maxHours sql.NullInt64
		if err := rows.Scan(&maxHours, &t.RateCents, &t.InOutPrivileges); err != nil {
			return domain.Location{}, err
		}
		if maxHours.Valid {
			h := int(maxHours.Int64)
			t.MaxHours = &h
		}
		loc.PricingTiers = append(loc.PricingTiers, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Location{}, err
	}
	return loc, nil
}

// ReplaceTiers swaps the whole table atomically; readers either see the old
// schedule or the new one, never a mix. The caller validated the table.
func (r *Repo) ReplaceTiers(ctx context.Context, scope domain.Scope, locationID int64, tiers []domain.PricingTier) error {
	if !scope.AllowsLocation(locationID) {
		return domain.ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, lockLocationSQL, locationID, scope.TenantID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, deleteTiersSQL, locationID); err != nil {
		return err
	}
	if len(tiers) > 0 {
		values := make([]string, 0, len(tiers))
		args := make([]any, 0, len(tiers)*5)
		for i, t := range tiers {
			values = append(values, "(?,?,?,?,?)")
			args = append(args, locationID, i, valInt(t.MaxHours), t.RateCents.Cents(), t.InOutPrivileges)
		}
		sqlStr := insertTiersPrefix + strings.Join(values, ",")
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) GetTicket(ctx context.Context, scope domain.Scope, id int64) (domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, getTicketSQL, id, scope.TenantID)

	var tk domain.Ticket
	var phone sql.NullString
	var checkOut sql.NullTime
	if err := row.Scan(&tk.ID, &tk.TenantID, &tk.LocationID, &tk.RateType, &phone, &tk.CheckInTime, &checkOut); err != nil {
		if err == sql.ErrNoRows {
			return domain.Ticket{}, domain.ErrNotFound
		}
		return domain.Ticket{}, err
	}
	if phone.Valid {
		s := phone.String
		tk.CustomerPhone = &s
	}
	if checkOut.Valid {
		t := checkOut.Time
		tk.CheckOutTime = &t
	}
	if !scope.AllowsLocation(tk.LocationID) {
		return domain.Ticket{}, domain.ErrNotFound
	}
	return tk, nil
}

// -----------------------------------------------------------------------------
// PaymentRepository
// -----------------------------------------------------------------------------

func (r *Repo) CreatePayment(ctx context.Context, p domain.Payment) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertPaymentSQL,
		p.ID,
		p.TicketID,
		p.TenantID,
		p.LocationID,
		string(p.Status),
		p.AmountCents.Cents(),
		p.RefundAmountCents.Cents(),
		nullStr(p.StripeLinkID),
		nullStr(p.StripeProduct),
		nullStr(p.StripeRefundID),
		string(meta),
		p.CreatedAt.UTC(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var p domain.Payment
	var linkID, product, refundID sql.NullString
	var meta sql.NullString
	var completedAt, refundedAt sql.NullTime
	if err := row.Scan(
		&p.ID,
		&p.TicketID,
		&p.TenantID,
		&p.LocationID,
		&p.Status,
		&p.AmountCents,
		&p.RefundAmountCents,
		&linkID,
		&product,
		&refundID,
		&meta,
		&p.CreatedAt,
		&completedAt,
		&refundedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	if linkID.Valid {
		p.StripeLinkID = linkID.String
	}
	if product.Valid {
		p.StripeProduct = product.String
	}
	if refundID.Valid {
		p.StripeRefundID = refundID.String
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		_ = json.Unmarshal([]byte(meta.String), &p.Metadata)
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		p.RefundedAt = &t
	}
	return p, nil
}

func (r *Repo) GetPayment(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, getPaymentSQL, id, scope.TenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, err
	}
	if !scope.AllowsLocation(p.LocationID) {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *Repo) ListPayments(ctx context.Context, scope domain.Scope, q domain.PaymentsQuery) ([]domain.Payment, error) {
	sqlStr := "SELECT" + paymentColumns + "FROM payments WHERE tenant_id = ?"
	args := []any{scope.TenantID}
	if q.LocationID != nil {
		sqlStr += " AND location_id = ?"
		args = append(args, *q.LocationID)
	} else if scope.LocationID != nil {
		sqlStr += " AND location_id = ?"
		args = append(args, *scope.LocationID)
	}
	if q.Status != nil {
		sqlStr += " AND status = ?"
		args = append(args, string(*q.Status))
	}
	sqlStr += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 { // a non-positive limit means the full snapshot (reports)
		sqlStr += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, listStaleSQL, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// mutate loads the payment under a row lock, applies fn, and persists the
// result in the same transaction. fn returning (false, nil) commits without
// writing — the idempotent-replay path.
func (r *Repo) mutate(ctx context.Context, scope domain.Scope, id string, fn func(tx *sql.Tx, p *domain.Payment) (bool, error)) (domain.Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	p, err := scanPayment(tx.QueryRowContext(ctx, getPaymentForUpdateSQL, id, scope.TenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, err
	}
	if !scope.AllowsLocation(p.LocationID) {
		return domain.Payment{}, domain.ErrNotFound
	}

	dirty, err := fn(tx, &p)
	if err != nil {
		return domain.Payment{}, err
	}
	if dirty {
		if _, err := tx.ExecContext(ctx, updatePaymentSQL,
			string(p.Status),
			p.RefundAmountCents.Cents(),
			nullStr(p.StripeProduct),
			nullStr(p.StripeRefundID),
			valTime(p.CompletedAt),
			valTime(p.RefundedAt),
			p.ID,
		); err != nil {
			return domain.Payment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

func (r *Repo) MarkLinkSent(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	return r.mutate(ctx, scope, id, func(_ *sql.Tx, p *domain.Payment) (bool, error) {
		if p.Status == domain.StatusLinkSent {
			return false, nil
		}
		if err := p.MarkLinkSent(); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (r *Repo) MarkCompleted(ctx context.Context, scope domain.Scope, id, gatewayRef string, at time.Time) (domain.Payment, error) {
	return r.mutate(ctx, scope, id, func(_ *sql.Tx, p *domain.Payment) (bool, error) {
		if p.Status == domain.StatusCompleted && p.StripeProduct == gatewayRef {
			return false, nil // replayed confirmation
		}
		if err := p.MarkCompleted(gatewayRef, at); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (r *Repo) MarkFailed(ctx context.Context, scope domain.Scope, id string) (domain.Payment, error) {
	return r.mutate(ctx, scope, id, func(_ *sql.Tx, p *domain.Payment) (bool, error) {
		if p.Status == domain.StatusFailed {
			return false, nil
		}
		if err := p.MarkFailed(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ApplyRefund records a confirmed refund. The unique key on the gateway's
// refund reference makes replays a no-op; the row lock serializes concurrent
// refunds so the cumulative total can never pass the charged amount.
func (r *Repo) ApplyRefund(ctx context.Context, scope domain.Scope, id string, ref domain.Refund) (domain.Payment, error) {
	if ref.StripeRefundID == "" {
		return domain.Payment{}, fmt.Errorf("refund without gateway reference")
	}
	return r.mutate(ctx, scope, id, func(tx *sql.Tx, p *domain.Payment) (bool, error) {
		var n int
		if err := tx.QueryRowContext(ctx, refundRefExistsSQL, ref.StripeRefundID).Scan(&n); err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil // already applied
		}
		if err := p.ApplyRefund(ref.AmountCents, ref.StripeRefundID, ref.CreatedAt); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, insertRefundSQL,
			ref.ID,
			p.ID,
			ref.AmountCents.Cents(),
			valStr(ref.Reason),
			ref.StripeRefundID,
			ref.CreatedAt.UTC(),
		); err != nil {
			return false, err
		}
		return true, nil
	})
}
