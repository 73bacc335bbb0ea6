// internal/adapters/http_server/handlers.go
package httpserver

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"valetops/internal/app"
	"valetops/internal/domain"
)

type Handlers struct {
	Ledger        *app.LedgerService
	Billing       *app.BillingService
	Reports       *app.ReportingService
	WebhookSecret string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	// gateway callbacks authenticate with a shared secret, not a session
	s.mux.Post("/v1/webhooks/stripe", h.stripeWebhook)

	s.mux.Group(func(r chi.Router) {
		r.Use(Session)
		r.Get("/v1/locations/{id}/tiers", h.getTiers)
		r.Put("/v1/locations/{id}/tiers", h.putTiers)
		r.Get("/v1/tickets/{id}/charge", h.projectedCharge)
		r.Get("/v1/tickets/{id}/privileges", h.inOutPrivileges)
		r.Post("/v1/tickets/{id}/payment-link", h.createPaymentLink)
		r.Post("/v1/payments/{id}/refund", h.refund)
		r.Get("/v1/payments", h.listPayments)
		r.Get("/v1/reports/payments", h.paymentsReport)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrInvalidTierOrder), errors.Is(err, domain.ErrDuplicateTierBound):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid tier table", err.Error())
	case errors.Is(err, domain.ErrNoApplicableTier):
		writeProblem(w, http.StatusUnprocessableEntity, "No applicable tier", err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		writeProblem(w, http.StatusBadRequest, "Invalid amount", err.Error())
	case errors.Is(err, domain.ErrExceedsRefundable):
		writeProblem(w, http.StatusUnprocessableEntity, "Exceeds refundable balance", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Invalid transition", err.Error())
	default:
		var gw *domain.GatewayError
		if errors.As(err, &gw) {
			writeProblem(w, http.StatusBadGateway, "Payment gateway error", gw.Error())
			return
		}
		log.Error().Err(err).Msg("unhandled handler error")
		writeProblem(w, http.StatusInternalServerError, "Internal error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// ---- tiers ----

type tierDTO struct {
	MaxHours        *int  `json:"max_hours"` // null marks the unbounded tail tier
	RateCents       int64 `json:"rate_cents"`
	InOutPrivileges bool  `json:"in_out_privileges"`
}

func tiersToDTO(tiers []domain.PricingTier) []tierDTO {
	out := make([]tierDTO, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierDTO{MaxHours: t.MaxHours, RateCents: t.RateCents.Cents(), InOutPrivileges: t.InOutPrivileges})
	}
	return out
}

func (h *Handlers) getTiers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	loc, err := h.Billing.GetLocation(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}

	etag, body := calcETagAndBody(map[string]any{"location_id": loc.ID, "tiers": tiersToDTO(loc.PricingTiers)})
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write tiers body")
	}
}

func (h *Handlers) putTiers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var in struct {
		Tiers []tierDTO `json:"tiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	tiers := make([]domain.PricingTier, 0, len(in.Tiers))
	for _, t := range in.Tiers {
		tiers = append(tiers, domain.PricingTier{MaxHours: t.MaxHours, RateCents: domain.Money(t.RateCents), InOutPrivileges: t.InOutPrivileges})
	}
	if err := h.Billing.ReplaceTiers(r.Context(), scopeFrom(r), id, tiers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location_id": id, "tiers": tiersToDTO(tiers)})
}

// ---- charge projection ----

func (h *Handlers) projectedCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	at := time.Now().UTC()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid time", "at must be RFC3339")
			return
		}
		at = t
	}
	q, err := h.Billing.ProjectedCharge(r.Context(), scopeFrom(r), id, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":         q.TicketID,
		"elapsed_hours":     q.ElapsedHours,
		"amount_cents":      q.AmountCents.Cents(),
		"tax_cents":         q.TaxCents.Cents(),
		"hotel_share_cents": q.HotelShareCents.Cents(),
		"total_cents":       q.TotalCents.Cents(),
		"in_out_privileges": q.InOutPrivileges,
	})
}

func (h *Handlers) inOutPrivileges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	granted, err := h.Billing.InOutPrivileges(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "in_out_privileges": granted})
}

// ---- ledger ----

type paymentDTO struct {
	ID                string  `json:"id"`
	TicketID          int64   `json:"ticket_id"`
	LocationID        int64   `json:"location_id"`
	Status            string  `json:"status"`
	AmountCents       int64   `json:"amount_cents"`
	RefundAmountCents int64   `json:"refund_amount_cents"`
	StripeLinkID      string  `json:"stripe_link_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	RefundedAt        *string `json:"refunded_at,omitempty"`
}

func paymentToDTO(p domain.Payment) paymentDTO {
	fmtTime := func(t *time.Time) *string {
		if t == nil {
			return nil
		}
		s := t.UTC().Format(time.RFC3339)
		return &s
	}
	return paymentDTO{
		ID:                p.ID,
		TicketID:          p.TicketID,
		LocationID:        p.LocationID,
		Status:            string(p.Status),
		AmountCents:       p.AmountCents.Cents(),
		RefundAmountCents: p.RefundAmountCents.Cents(),
		StripeLinkID:      p.StripeLinkID,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:       fmtTime(p.CompletedAt),
		RefundedAt:        fmtTime(p.RefundedAt),
	}
}

func (h *Handlers) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var in struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	p, err := h.Ledger.CreatePaymentLink(r.Context(), scopeFrom(r), id, domain.Money(in.AmountCents))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentToDTO(p))
}

func (h *Handlers) refund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	var in struct {
		AmountCents *int64  `json:"amount_cents"` // omitted: refund the full remainder
		Reason      *string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	var amount *domain.Money
	if in.AmountCents != nil {
		m := domain.Money(*in.AmountCents)
		amount = &m
	}
	p, err := h.Ledger.Refund(r.Context(), scopeFrom(r), paymentID, amount, in.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentToDTO(p))
}

func (h *Handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	q := domain.PaymentsQuery{Limit: 100}
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.PaymentStatus(s)
		q.Status = &st
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		q.Limit = l
	}
	scope := scopeFrom(r)
	q.LocationID = scope.LocationID
	ps, err := h.Reports.ListPayments(r.Context(), scope, q)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]paymentDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, paymentToDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handlers) paymentsReport(w http.ResponseWriter, r *http.Request) {
	m, err := h.Reports.PaymentsReport(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_count":                 m.TotalCount,
		"completed_count":             m.CompletedCount,
		"completed_amount_cents":      m.CompletedAmountCents.Cents(),
		"pending_count":               m.PendingCount,
		"pending_amount_cents":        m.PendingAmountCents.Cents(),
		"refunded_count":              m.RefundedCount,
		"refunded_amount_cents":       m.RefundedAmountCents.Cents(),
		"total_refunded_amount_cents": m.TotalRefundedAmountCents.Cents(),
		"net_collected_cents":         m.NetCollectedCents().Cents(),
	})
}

// ---- gateway webhook ----

func (h *Handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(h.WebhookSecret)) != 1 {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bad webhook secret")
		return
	}
	var in struct {
		Type        string `json:"type"`
		PaymentID   string `json:"payment_id"`
		TenantID    string `json:"tenant_id"`
		GatewayRef  string `json:"gateway_ref"`
		RefundRef   string `json:"refund_ref"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	ev := app.GatewayEvent{
		Type:        in.Type,
		PaymentID:   in.PaymentID,
		TenantID:    in.TenantID,
		GatewayRef:  in.GatewayRef,
		RefundRef:   in.RefundRef,
		AmountCents: domain.Money(in.AmountCents),
	}
	if err := h.Ledger.HandleGatewayEvent(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
