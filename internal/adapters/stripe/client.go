// internal/adapters/stripe/client.go
package stripe

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"valetops/internal/domain"
)

// Client talks to the payment provider's REST API. All identifiers it
// returns are opaque and stored verbatim; the provider is the source of
// truth for settlement.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: 20 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

type linkResponse struct {
	ID      string `json:"id"`
	Product string `json:"product"`
	URL     string `json:"url"`
}

func (c *Client) CreateChargeLink(ctx context.Context, amount domain.Money, metadata map[string]string) (domain.ChargeLink, error) {
	body := map[string]any{
		"amount_cents": amount.Cents(),
		"currency":     "usd",
		"metadata":     metadata,
	}
	var out linkResponse
	if err := c.post(ctx, c.base+"/v1/payment_links", body, &out); err != nil {
		return domain.ChargeLink{}, err
	}
	return domain.ChargeLink{LinkID: out.ID, ProductRef: out.Product, URL: out.URL}, nil
}

type refundResponse struct {
	ID string `json:"id"`
}

func (c *Client) Refund(ctx context.Context, chargeRef string, amount domain.Money) (domain.RefundReceipt, error) {
	body := map[string]any{
		"charge":       chargeRef,
		"amount_cents": amount.Cents(),
	}
	var out refundResponse
	if err := c.post(ctx, c.base+"/v1/refunds", body, &out); err != nil {
		return domain.RefundReceipt{}, err
	}
	return domain.RefundReceipt{RefundRef: out.ID}, nil
}

type chargeStateResponse struct {
	Status     string `json:"status"` // open|paid|expired
	GatewayRef string `json:"charge"`
}

func (c *Client) GetCharge(ctx context.Context, linkID string) (domain.ChargeState, error) {
	var out chargeStateResponse
	if err := c.do(ctx, http.MethodGet, c.base+"/v1/payment_links/"+linkID, nil, &out); err != nil {
		return domain.ChargeState{}, err
	}
	return domain.ChargeState{
		Paid:       out.Status == "paid",
		Expired:    out.Status == "expired",
		GatewayRef: out.GatewayRef,
	}, nil
}

// ---- Internals ----

var (
	ErrNotFound     = errors.New("stripe: not found")
	ErrUnauthorized = errors.New("stripe: unauthorized")
	ErrForbidden    = errors.New("stripe: forbidden")
	ErrRejected     = errors.New("stripe: request rejected")
)

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	return c.do(ctx, http.MethodPost, url, body, out)
}

// do performs a request with client-side rate limiting, retries, and JSON
// decode into out. Retries on 429 and transient 5xx, honoring Retry-After.
// Each logical call carries one Idempotency-Key across its retries, so a
// retried POST cannot double-charge or double-refund.
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	idemKey := uuid.NewString()

	var lastErr error
	for i := 0; i < 4; i++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "valetops/1.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(b)))

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (200ms, 400ms, 800ms...) with up to
// +50% concurrency-safe jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
