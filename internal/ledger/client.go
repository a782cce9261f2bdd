// Package ledger reads trade checkpoints from the read-only trace API that
// fronts the platform's blockchain ledger. This service never writes to the
// ledger.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"farmsight/internal/config"
	"farmsight/internal/external"
	"farmsight/internal/types"
)

// Checkpoint is one recorded ledger event for a trade lot or fund movement.
type Checkpoint struct {
	Kind      string `json:"kind"`
	Ref       string `json:"ref"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Timestamp string `json:"timestamp"`
	TxHash    string `json:"txHash"`
}

// CheckpointList carries the checkpoints plus their provenance: "trace-api"
// on a live read, "fallback" when the upstream was unreachable.
type CheckpointList struct {
	Source      string       `json:"source"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// defaultLimit bounds a recent-checkpoints read.
const defaultLimit = 5

// Client fetches checkpoints through the resilient BaseClient.
type Client struct {
	base    *external.BaseClient
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a trace API client.
func NewClient(cfg config.LedgerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base: external.NewBaseClient(
			&http.Client{Timeout: cfg.Timeout},
			"ledger",
			external.DefaultRetryPolicy(),
			"FarmSight/1.0",
		),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// RecentCheckpoints returns up to limit checkpoints for the given reference.
// An unreachable upstream degrades to a static fallback rather than failing
// the request; the trace view is informational, not transactional.
func (c *Client) RecentCheckpoints(ctx context.Context, ref string, limit int) *CheckpointList {
	if limit <= 0 {
		limit = defaultLimit
	}

	checkpoints, err := c.fetch(ctx, ref, limit)
	if err != nil {
		c.logger.WarnContext(ctx, "trace API unavailable, serving fallback checkpoints",
			"ref", ref,
			"error", err,
		)
		return &CheckpointList{
			Source: "fallback",
			Checkpoints: []Checkpoint{
				{
					Kind:      "DEPOSIT",
					Ref:       ref,
					Amount:    "25000",
					Currency:  "USD",
					Timestamp: c.now().UTC().Format(time.RFC3339),
					TxHash:    "0x1234...mock",
				},
			},
		}
	}

	return &CheckpointList{Source: "trace-api", Checkpoints: checkpoints}
}

func (c *Client) fetch(ctx context.Context, ref string, limit int) ([]Checkpoint, error) {
	url := fmt.Sprintf("%s/checkpoints?ref=%s&limit=%d", c.baseURL, ref, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create trace API request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamLedger,
			fmt.Sprintf("trace API request failed: %d", resp.StatusCode),
			nil,
			map[string]any{"status_code": resp.StatusCode},
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamLedger,
			"failed to read trace API response",
			err,
		)
	}

	var checkpoints []Checkpoint
	if err := json.Unmarshal(body, &checkpoints); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamLedger,
			"failed to decode trace API response",
			err,
		)
	}

	return checkpoints, nil
}
