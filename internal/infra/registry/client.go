package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"liquibot/internal/domain"

	"github.com/shopspring/decimal"
)

// Client reads the sorted trove set from the indexer's REST API. The indexer
// mirrors the on-chain sorted-troves list and serves it riskiest-first.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a trove registry client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type snapshotResponse struct {
	Troves []string `json:"troves"`
}

type ratioResponse struct {
	Trove string `json:"trove"`
	Ratio string `json:"ratio"`
}

// FetchSnapshot returns up to limit trove ids, riskiest-first.
func (c *Client) FetchSnapshot(ctx context.Context, limit int) ([]domain.PositionID, error) {
	endpoint := fmt.Sprintf("%s/v1/troves?limit=%d", c.baseURL, limit)

	var data snapshotResponse
	if err := c.getJSON(ctx, endpoint, &data); err != nil {
		return nil, err
	}

	ids := make([]domain.PositionID, 0, len(data.Troves))
	for _, t := range data.Troves {
		ids = append(ids, domain.PositionID(t))
	}
	return ids, nil
}

// CurrentRatio returns the trove's collateral ratio at the given price.
func (c *Client) CurrentRatio(ctx context.Context, id domain.PositionID, price domain.Price) (domain.Ratio, error) {
	endpoint := fmt.Sprintf("%s/v1/troves/%s/ratio?price=%s",
		c.baseURL, url.PathEscape(string(id)), url.QueryEscape(price.String()))

	var data ratioResponse
	if err := c.getJSON(ctx, endpoint, &data); err != nil {
		return decimal.Zero, err
	}

	ratio, err := decimal.NewFromString(data.Ratio)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed ratio %q for trove %s: %w", data.Ratio, id, err)
	}
	return ratio, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
