// Package wallet is the REST client for the external wallet service that
// settles ledger entries.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
	"github.com/alanyoungcy/matrixnet/internal/domain"
)

const creditPath = "/v1/credits"

var _ domain.Wallet = (*Client)(nil)

// Config holds the wallet endpoint, credentials and client-side limits.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// Client posts signed credit instructions to the wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    *rate.Limiter
}

// New creates a wallet client. A zero RequestsPerSec disables throttling.
func New(cfg Config, auth *crypto.HMACAuth) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Credit sends one payout. 2xx and 409 (already applied under the same
// idempotency key) are success; other 4xx responses are permanent
// rejections; everything else is transient.
func (c *Client) Credit(ctx context.Context, cr domain.Credit) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wallet: rate limit: %w", err)
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("wallet: marshal credit %s: %w", cr.EntryID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+creditPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wallet: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(crypto.HeaderIdempotency, cr.EntryID)
	if c.auth != nil {
		for k, v := range c.auth.Headers(http.MethodPost, creditPath, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet: credit %s: %w", cr.EntryID, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	return checkStatus(cr.EntryID, resp.StatusCode, respBody)
}

func checkStatus(entryID string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300, status == http.StatusConflict:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return fmt.Errorf("wallet: credit %s: status %d: %s", entryID, status, strings.TrimSpace(string(body)))
	case status >= 400 && status < 500:
		return fmt.Errorf("wallet: credit %s: status %d: %s: %w",
			entryID, status, strings.TrimSpace(string(body)), domain.ErrPayoutRejected)
	default:
		return fmt.Errorf("wallet: credit %s: status %d: %s", entryID, status, strings.TrimSpace(string(body)))
	}
}
