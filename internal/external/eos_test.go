package external

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmsight/internal/types"
)

// fakeSecretProvider counts lookups and returns scripted values.
type fakeSecretProvider struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func TestCredentialSource_DirectKeyWins(t *testing.T) {
	provider := &fakeSecretProvider{values: map[string]string{"eos/api": "store-key"}}
	src := NewCredentialSource(types.SecretString("direct-key"), "eos/api", provider)

	key, err := src.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "direct-key", key)
	assert.Equal(t, 0, provider.calls, "direct override must not hit the secret store")
}

func TestCredentialSource_FetchedOnceAndCached(t *testing.T) {
	provider := &fakeSecretProvider{values: map[string]string{"eos/api": "store-key"}}
	src := NewCredentialSource("", "eos/api", provider)

	for i := 0; i < 3; i++ {
		key, err := src.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "store-key", key)
	}
	assert.Equal(t, 1, provider.calls, "key must be cached after the first successful fetch")
}

func TestCredentialSource_FailureNotCached(t *testing.T) {
	provider := &fakeSecretProvider{err: errors.New("ssm unavailable")}
	src := NewCredentialSource("", "eos/api", provider)

	_, err := src.APIKey(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeCredentialNotFound, appErr.Code)

	// The store recovers; the next call must retry instead of serving the
	// poisoned result.
	provider.err = nil
	provider.values = map[string]string{"eos/api": "store-key"}

	key, err := src.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store-key", key)
	assert.Equal(t, 2, provider.calls)
}

func TestCredentialSource_NoSourceAvailable(t *testing.T) {
	src := NewCredentialSource("", "", nil)

	_, err := src.APIKey(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeCredentialNotFound, appErr.Code)
	assert.Equal(t, "EOS API key not found in environment variables or secret store", appErr.Message)
}

func newTestEOSClient(t *testing.T, baseURL string) *EOSClient {
	t.Helper()
	return NewEOSClient(&http.Client{Timeout: 5 * time.Second}, EOSClientConfig{
		Credentials: NewCredentialSource(types.SecretString("test-key"), "", nil),
		BaseURL:     baseURL,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestEOSClient_RequestSendsAPIKeyHeader(t *testing.T) {
	var gotKey, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"task_id":"t-1"}`))
	}))
	defer server.Close()

	client := newTestEOSClient(t, server.URL)
	raw, err := client.Request(context.Background(), GDWPath, map[string]string{"type": "jpeg"})
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"task_id":"t-1"}`, string(raw))
}

func TestEOSClient_ErrorResponseCarriesStatusAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer server.Close()

	client := newTestEOSClient(t, server.URL)
	_, err := client.Request(context.Background(), GDWPath, map[string]string{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEOS, appErr.Code)
	assert.Equal(t, "EOS API request failed: 403 - invalid api key", appErr.Message)
	assert.Equal(t, http.StatusForbidden, appErr.Details["status_code"])
}

func TestEOSClient_ServerErrorCarriesProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"view v1 expired, resubmit request"}`))
	}))
	defer server.Close()

	client := newTestEOSClient(t, server.URL)
	_, err := client.Request(context.Background(), GDWPath, map[string]string{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEOS, appErr.Code)
	assert.Contains(t, err.Error(), "view v1 expired, resubmit request")
}

func TestEOSClient_CredentialErrorBeforeNetwork(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client := NewEOSClient(&http.Client{}, EOSClientConfig{
		Credentials: NewCredentialSource("", "", nil),
		BaseURL:     server.URL,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := client.Request(context.Background(), GDWPath, map[string]string{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeCredentialNotFound, appErr.Code)
	assert.Equal(t, 0, requests)
}

func TestEOSClient_TaskStatusDecodesAndPreservesRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, taskStatusPathPrefix+"t-9", r.URL.Path)
		w.Write([]byte(`{"task_id":"t-9","status":"completed","extra":{"url":"img"}}`))
	}))
	defer server.Close()

	client := newTestEOSClient(t, server.URL)
	status, err := client.TaskStatus(context.Background(), "t-9")
	require.NoError(t, err)

	assert.Equal(t, TaskStatusCompleted, status.Status)
	assert.Equal(t, "t-9", status.TaskID)
	assert.Contains(t, string(status.Raw), `"extra"`)
}

func TestEOSClient_TaskStatusRequiresTaskID(t *testing.T) {
	client := newTestEOSClient(t, "http://unused.invalid")
	_, err := client.TaskStatus(context.Background(), "")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}
