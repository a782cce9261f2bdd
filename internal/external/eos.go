package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"farmsight/internal/config"
	"farmsight/internal/types"
)

// eosAPIBase is the default EOS API Connect base URL.
// Overridable in tests via EOSClientConfig.BaseURL.
const eosAPIBase = "https://api-connect.eos.com/api"

// GDWPath is the submission endpoint for imagery and statistics tasks.
const GDWPath = "/gdw/api"

// taskStatusPathPrefix is the endpoint prefix for task status polling.
const taskStatusPathPrefix = "/gdw/status/"

// TaskStatus is the provider-reported lifecycle state of an asynchronous task.
// The provider owns this enum; unrecognized values are treated as still
// in progress.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskStatusResponse is the decoded payload of a task status request.
// Raw preserves the complete provider payload so that callers can recover
// result fields the typed view does not model.
type TaskStatusResponse struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error"`
	Raw    json.RawMessage
}

// CredentialSource resolves the EOS API key. Resolution order:
//
//  1. Direct override (EOS_API_KEY) if present.
//  2. Secret-store lookup under the configured secret ID, cached
//     process-wide after the first success.
//
// Failed lookups are not cached, so a transient secret-store outage does not
// poison the process. There is no rotation handling; a resolved key lives for
// the process lifetime.
type CredentialSource struct {
	direct   types.SecretString
	secretID string
	provider config.SecretProvider

	mu  sync.Mutex
	key string
}

// NewCredentialSource creates a CredentialSource. The provider may be nil when
// a direct key is supplied; resolution then fails if the direct key is empty.
func NewCredentialSource(direct types.SecretString, secretID string, provider config.SecretProvider) *CredentialSource {
	return &CredentialSource{
		direct:   direct,
		secretID: secretID,
		provider: provider,
	}
}

// APIKey returns the EOS API key, fetching from the secret store at most once
// per process on the cold path.
func (s *CredentialSource) APIKey(ctx context.Context) (string, error) {
	if k := s.direct.Unmask(); k != "" {
		return k, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != "" {
		return s.key, nil
	}

	if s.provider == nil || s.secretID == "" {
		return "", types.NewAppError(
			types.ErrCodeCredentialNotFound,
			"EOS API key not found in environment variables or secret store",
			nil,
		)
	}

	resolved, err := s.provider.GetParametersBatch(ctx, []string{s.secretID})
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeCredentialNotFound,
			"failed to fetch EOS API key from secret store",
			err,
		)
	}

	key, ok := resolved[s.secretID]
	if !ok || key == "" {
		return "", types.NewAppError(
			types.ErrCodeCredentialNotFound,
			"EOS API key not found in environment variables or secret store",
			nil,
		)
	}

	s.key = key
	return s.key, nil
}

// EOSClientConfig holds the configuration for creating an EOSClient.
type EOSClientConfig struct {
	Credentials *CredentialSource
	BaseURL     string // Override for testing; defaults to eosAPIBase
	Logger      *slog.Logger
}

// EOSClient issues authenticated requests against the EOS imagery/analytics
// API through BaseClient. Submissions are deliberately configured without
// retries: transient-failure tolerance belongs to the task poll loop, and a
// failed submission is surfaced to the caller immediately.
type EOSClient struct {
	base    *BaseClient
	baseURL string
	creds   *CredentialSource
	logger  *slog.Logger
}

// NewEOSClient creates a new EOSClient. The httpClient timeout should be set
// appropriately for the EOS API (e.g., 30 seconds).
func NewEOSClient(httpClient *http.Client, cfg EOSClientConfig) *EOSClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = eosAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"eos",
		NoRetryPolicy(),
		"FarmSight/1.0",
	)

	return &EOSClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   cfg.Credentials,
		logger:  logger,
	}
}

// NewEOSClientWithBase creates an EOSClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient
// configuration.
func NewEOSClientWithBase(base *BaseClient, cfg EOSClientConfig) *EOSClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = eosAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EOSClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   cfg.Credentials,
		logger:  logger,
	}
}

// Request issues an authenticated POST to the given EOS API path and returns
// the raw response payload. The API key travels in the x-api-key header.
func (c *EOSClient) Request(ctx context.Context, path string, body any) (json.RawMessage, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize EOS request body",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create EOS request",
			err,
		)
	}

	req.Header.Set("x-api-key", key)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "EOS API request failed",
			"path", path,
			"error", err,
		)
		return nil, err
	}
	defer resp.Body.Close()

	// BaseClient returns 4xx responses (other than 429) as-is without error.
	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(ctx, resp, path)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamEOS,
			"failed to read EOS response body",
			err,
		)
	}

	c.logger.DebugContext(ctx, "EOS API request completed",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return json.RawMessage(payload), nil
}

// TaskStatus queries the status of an asynchronous task. It implements the
// StatusSource interface consumed by the Poller.
func (c *EOSClient) TaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	if taskID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"task ID is required for status check",
			nil,
		)
	}

	raw, err := c.Request(ctx, taskStatusPathPrefix+taskID, struct{}{})
	if err != nil {
		return nil, err
	}

	var status TaskStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamEOS,
			"failed to decode EOS task status response",
			err,
		)
	}
	status.Raw = raw

	return &status, nil
}

// handleErrorResponse reads the error body from a non-2xx response and
// converts it into an AppError carrying the upstream status code and the
// provider-supplied message when one exists.
func (c *EOSClient) handleErrorResponse(ctx context.Context, resp *http.Response, path string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	// Prefer the provider's structured message field; fall back to raw body.
	providerMsg := strings.TrimSpace(string(bodyBytes))
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Message != "" {
		providerMsg = envelope.Message
	}

	c.logger.ErrorContext(ctx, "EOS API error",
		"path", path,
		"status_code", resp.StatusCode,
		"response_body", providerMsg,
	)

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamEOS,
		fmt.Sprintf("EOS API request failed: %d - %s", resp.StatusCode, providerMsg),
		nil,
		map[string]any{"status_code": resp.StatusCode},
	)
}

// Compile-time interface compliance check.
var _ StatusSource = (*EOSClient)(nil)
