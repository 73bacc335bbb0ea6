package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"valetops/internal/adapters/observability"
)

// Client delivers customer SMS through the text-message gateway. Delivery is
// best-effort; callers decide what a failed send means for them.
type Client struct {
	base string
	hc   *http.Client
	key  string
	from string
}

func New(base, key, from string) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: 10 * time.Second},
		key:  key,
		from: from,
	}, nil
}

func (c *Client) SendPaymentLink(ctx context.Context, phone, url string) error {
	msg := fmt.Sprintf("Pay for your valet ticket here: %s", url)
	return c.send(ctx, phone, msg)
}

func (c *Client) send(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(map[string]string{
		"from": c.from,
		"to":   phone,
		"body": text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("sms", "/v1/messages", 0, time.Since(start))
		return err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("sms", "/v1/messages", resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
