package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"liquibot/internal/infra"

	"github.com/shopspring/decimal"
)

// priceResponse is the fallback oracle's answer. The gateway in front of the
// secondary aggregator serves the already-decoded round value; no ABI work
// happens in this process.
type priceResponse struct {
	Price     string `json:"price"`
	RoundID   uint64 `json:"round_id"`
	UpdatedAt int64  `json:"updated_at"`
}

// Client pulls the collateral price from the fallback oracle endpoint.
// Used at startup and on active-polling ticks; the push feed is the primary
// source.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a fallback oracle client.
func NewClient(apiURL string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

// FetchPrice fetches the current price with bounded retries.
func (c *Client) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			delay := infra.CalculateBackoff(i - 1)
			slog.Info("Retrying fallback price fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		price, err := c.doFetch(ctx)
		if err == nil {
			return price, nil
		}
		lastErr = err
		slog.Warn("Fallback price fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return decimal.Zero, lastErr
}

func (c *Client) doFetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var data priceResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed price %q: %w", data.Price, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("oracle returned negative price %s", price)
	}

	return price, nil
}
