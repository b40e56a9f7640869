// Package feed is the market-data boundary client: quote snapshots and the
// health feed the gate depends on. Requests are rate limited and retried;
// a health endpoint that cannot be read yields no snapshot, which callers
// must treat as stale.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const (
	quotesRatePerSec = 40
	healthRatePerSec = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the HTTP client for the market-data boundary.
type Client struct {
	http          *http.Client
	base          string
	quotesLimiter *rate.Limiter
	healthLimiter *rate.Limiter
}

// New creates a Client against the given base URL.
func New(base string) *Client {
	return &Client{
		http:          &http.Client{Timeout: 10 * time.Second},
		base:          base,
		quotesLimiter: rate.NewLimiter(quotesRatePerSec, 10),
		healthLimiter: rate.NewLimiter(healthRatePerSec, 2),
	}
}

type quotePayload struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TsFeed int64   `json:"ts_feed"` // unix milliseconds
}

type healthPayload struct {
	QuoteAgeS   float64 `json:"quote_age_s"`
	BrokerAgeS  float64 `json:"broker_age_s"`
	ErrorBudget float64 `json:"error_budget"`
	Stale       bool    `json:"stale"`
}

// Quote fetches the current quote snapshot for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var payload quotePayload
	url := fmt.Sprintf("%s/v1/quotes/%s", c.base, symbol)
	if err := c.get(ctx, c.quotesLimiter, url, &payload); err != nil {
		return domain.Quote{}, fmt.Errorf("feed.Quote: %s: %w", symbol, err)
	}
	return domain.Quote{
		Symbol: payload.Symbol,
		Bid:    payload.Bid,
		Ask:    payload.Ask,
		TsFeed: time.UnixMilli(payload.TsFeed),
		TsRecv: time.Now().UTC(),
	}, nil
}

// Snapshot fetches the freshness health feed. On any failure it returns a
// nil snapshot: the gate treats unknown health as stale.
func (c *Client) Snapshot(ctx context.Context) (*domain.HealthSnapshot, error) {
	var payload healthPayload
	if err := c.get(ctx, c.healthLimiter, c.base+"/v1/health", &payload); err != nil {
		slog.Warn("feed: health fetch failed, reporting unknown", "err", err)
		return nil, nil
	}
	return &domain.HealthSnapshot{
		QuoteAgeS:  payload.QuoteAgeS,
		BrokerAgeS: payload.BrokerAgeS,
		Stale:      payload.Stale || payload.ErrorBudget <= 0,
	}, nil
}

// get runs a rate-limited GET with retries and exponential backoff.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if attempt > 0 {
			wait := baseRetryWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr // not retryable
			}
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func truncateBody(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
