package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"liquibot/internal/domain"

	"github.com/google/uuid"
)

const (
	// defaultConfirmations is the confirmation count required before an
	// outcome counts as success, matching the protocol bot's tx.wait(1).
	defaultConfirmations = 1

	statusPollInterval = 2 * time.Second
)

// Client submits batch liquidations through the transaction relay. The relay
// owns keys, nonces and gas; this process only says which troves to close.
// Every request carries a UUID idempotency key so a replayed submission is a
// safe no-op on the relay side.
type Client struct {
	baseURL          string
	apiKey           string
	minConfirmations int
	httpClient       *http.Client
}

// NewClient creates a relay client requiring the default confirmation count.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:          baseURL,
		apiKey:           apiKey,
		minConfirmations: defaultConfirmations,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type submitRequest struct {
	Troves         []string `json:"troves"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type statusResponse struct {
	TxRef         string `json:"tx_ref"`
	Status        string `json:"status"` // "pending", "confirmed", "reverted"
	Confirmations int    `json:"confirmations"`
}

// SubmitBatch posts the batch and polls the relay until the transaction is
// confirmed, reverted, or ctx expires. Callers must not pass an empty batch.
func (c *Client) SubmitBatch(ctx context.Context, ids []domain.PositionID) (domain.Outcome, error) {
	if len(ids) == 0 {
		return domain.Outcome{}, fmt.Errorf("%w: empty batch", domain.ErrInvariant)
	}

	key := uuid.NewString()
	outcome := domain.Outcome{IdempotencyKey: key}

	troves := make([]string, len(ids))
	for i, id := range ids {
		troves[i] = string(id)
	}

	var submitted submitResponse
	err := c.postJSON(ctx, c.baseURL+"/v1/liquidations", submitRequest{
		Troves:         troves,
		IdempotencyKey: key,
	}, &submitted)
	if err != nil {
		return outcome, err
	}
	outcome.TxRef = submitted.TxRef
	slog.Info("Liquidation batch submitted",
		slog.String("tx_ref", submitted.TxRef),
		slog.Int("troves", len(ids)))

	return c.awaitConfirmation(ctx, outcome)
}

// awaitConfirmation polls transaction status until a terminal state.
func (c *Client) awaitConfirmation(ctx context.Context, outcome domain.Outcome) (domain.Outcome, error) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		var status statusResponse
		if err := c.getJSON(ctx, c.baseURL+"/v1/liquidations/"+outcome.TxRef, &status); err != nil {
			return outcome, err
		}
		outcome.Confirmations = status.Confirmations

		switch status.Status {
		case "confirmed":
			if status.Confirmations >= c.minConfirmations {
				outcome.Success = true
				return outcome, nil
			}
		case "reverted":
			return outcome, fmt.Errorf("transaction %s reverted", outcome.TxRef)
		}

		select {
		case <-ctx.Done():
			// Deadline passed while unconfirmed: report failure, never
			// resubmit here. The tx may still land on its own.
			return outcome, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
