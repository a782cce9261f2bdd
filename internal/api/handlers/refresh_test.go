package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmsight/internal/queue"
)

type captureSender struct {
	sent int
}

func (c *captureSender) SendMessage(_ context.Context, _ *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.sent++
	return &sqs.SendMessageOutput{}, nil
}

func newRefreshHandler(sender *captureSender) *RefreshHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trigger := queue.NewRefreshTrigger(sender, "https://sqs.test/refresh", logger)
	return NewRefreshHandler(trigger, logger)
}

func postRefresh(h *RefreshHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/eos/refresh", strings.NewReader(body)))
	return rec
}

func TestRefreshEnqueue_ReturnsJobID(t *testing.T) {
	sender := &captureSender{}
	h := newRefreshHandler(sender)

	rec := postRefresh(h, `{"farm_id":"2BH","view_id":"v1","geometry":`+testPolygonJSON+`}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, 1, sender.sent)
}

func TestRefreshEnqueue_ListsMissingFields(t *testing.T) {
	sender := &captureSender{}
	h := newRefreshHandler(sender)

	rec := postRefresh(h, `{"farm_id":"2BH"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required parameters: view_id, geometry", errorMessage(t, rec))
	assert.Zero(t, sender.sent)
}

func TestRefreshEnqueue_RejectsInvalidGeometry(t *testing.T) {
	sender := &captureSender{}
	h := newRefreshHandler(sender)

	rec := postRefresh(h, `{"view_id":"v1","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, sender.sent)
}

func TestRefreshEnqueue_RejectsMalformedJSON(t *testing.T) {
	h := newRefreshHandler(&captureSender{})

	rec := postRefresh(h, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body must be valid JSON", errorMessage(t, rec))
}
