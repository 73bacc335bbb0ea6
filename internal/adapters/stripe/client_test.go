package stripe_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"valetops/internal/adapters/stripe"
)

func TestClient_CreateChargeLink_RetriesThenSuccess(t *testing.T) {
	var hits int32
	var firstKey string // retries are sequential; no extra locking needed
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			firstKey = key
			w.WriteHeader(500)
		case 2:
			w.WriteHeader(500)
		default:
			if key != firstKey {
				t.Errorf("idempotency key changed across retries")
			}
			w.WriteHeader(200)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "plink_1", "product": "prod_1", "url": "https://pay.test/x"})
		}
	}))
	defer ts.Close()

	cl, err := stripe.New(ts.URL, "sk_test", 100) // high RPS for tests
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := cl.CreateChargeLink(ctx, 2500, map[string]string{"ticket_id": "7"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if link.LinkID != "plink_1" || link.ProductRef != "prod_1" {
		t.Fatalf("unexpected link: %+v", link)
	}
	if atomic.LoadInt32(&hits) < 3 {
		t.Fatalf("expected at least 3 calls due to retries, got %d", hits)
	}
}

func TestClient_Refund_RejectedNotRetried(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"charge already refunded"}`))
	}))
	defer ts.Close()

	cl, err := stripe.New(ts.URL, "sk_test", 100)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = cl.Refund(ctx, "ch_1", 100)
	if !errors.Is(err, stripe.ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", hits)
	}
}

func TestClient_GetCharge_404(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	cl, err := stripe.New(ts.URL, "sk_test", 100)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := cl.GetCharge(ctx, "plink_missing"); !errors.Is(err, stripe.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestClient_GetCharge_StatusMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "paid", "charge": "ch_42"})
	}))
	defer ts.Close()

	cl, _ := stripe.New(ts.URL, "sk_test", 100)
	st, err := cl.GetCharge(context.Background(), "plink_1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !st.Paid || st.Expired || st.GatewayRef != "ch_42" {
		t.Fatalf("unexpected state: %+v", st)
	}
}
