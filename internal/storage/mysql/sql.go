package mysql

// -----------------------------------------------------------------------------
// LOCATIONS & TIERS
// -----------------------------------------------------------------------------

const getLocationSQL = `
SELECT
  id,
  tenant_id,
  name,
  tax_rate_bp,
  hotel_share_bp,
  overnight_rate_cents,
  overnight_in_out
FROM locations
WHERE id = ? AND tenant_id = ?
`

const getTiersSQL = `
SELECT max_hours, rate_cents, in_out
FROM pricing_tiers
WHERE location_id = ?
ORDER BY position
`

const lockLocationSQL = `
SELECT id FROM locations WHERE id = ? AND tenant_id = ? FOR UPDATE
`

const deleteTiersSQL = `
DELETE FROM pricing_tiers WHERE location_id = ?
`

const insertTiersPrefix = "INSERT INTO pricing_tiers\n  (location_id, position, max_hours, rate_cents, in_out)\nVALUES "

// -----------------------------------------------------------------------------
// TICKETS
// -----------------------------------------------------------------------------

const getTicketSQL = `
SELECT id, tenant_id, location_id, rate_type, customer_phone, check_in_at, check_out_at
FROM tickets
WHERE id = ? AND tenant_id = ?
`

// -----------------------------------------------------------------------------
// PAYMENTS
// -----------------------------------------------------------------------------

const insertPaymentSQL = `
INSERT INTO payments
  (id, ticket_id, tenant_id, location_id, status, amount_cents, refund_amount_cents,
   stripe_link_id, stripe_product, stripe_refund_id, metadata, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const paymentColumns = `
  id, ticket_id, tenant_id, location_id, status, amount_cents, refund_amount_cents,
  stripe_link_id, stripe_product, stripe_refund_id, metadata,
  created_at, completed_at, refunded_at
`

const getPaymentSQL = `
SELECT` + paymentColumns + `
FROM payments
WHERE id = ? AND tenant_id = ?
`

// Row lock scoped to one payment id: the single-writer discipline behind the
// refund invariant.
const getPaymentForUpdateSQL = getPaymentSQL + `FOR UPDATE
`

const updatePaymentSQL = `
UPDATE payments SET
  status              = ?,
  refund_amount_cents = ?,
  stripe_product      = ?,
  stripe_refund_id    = ?,
  completed_at        = ?,
  refunded_at         = ?
WHERE id = ?
`

const listStaleSQL = `
SELECT` + paymentColumns + `
FROM payments
WHERE status IN ('PENDING', 'PAYMENT_LINK_SENT') AND created_at < ?
ORDER BY created_at
LIMIT ?
`

// -----------------------------------------------------------------------------
// REFUND SUB-LEDGER
// -----------------------------------------------------------------------------

const insertRefundSQL = `
INSERT INTO payment_refunds
  (id, payment_id, amount_cents, reason, stripe_refund_id, created_at)
VALUES
  (?, ?, ?, ?, ?, ?)
`

// The unique key on stripe_refund_id makes webhook replays detectable across
// restarts.
const refundRefExistsSQL = `
SELECT COUNT(*) FROM payment_refunds WHERE stripe_refund_id = ?
`
