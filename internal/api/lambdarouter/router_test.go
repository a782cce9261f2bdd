package lambdarouter

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"q":"` + r.URL.Query().Get("name") + `"}`))
	})
	r.Post("/v1/body", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	})
	r.Get("/v1/tile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Endpoint not found"}`))
	})
	return r
}

func TestHandle_RoutesPathAndQuery(t *testing.T) {
	rt := New(testHandler())

	resp, err := rt.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/v1/echo",
		QueryStringParameters: map[string]string{"name": "farm"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"q":"farm"}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.False(t, resp.IsBase64Encoded)
}

func TestHandle_DecodesBase64RequestBody(t *testing.T) {
	rt := New(testHandler())

	resp, err := rt.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/v1/body",
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"farm_id":"2BH"}`)),
		IsBase64Encoded: true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"farm_id":"2BH"}`, resp.Body)
}

func TestHandle_EncodesBinaryResponses(t *testing.T) {
	rt := New(testHandler())

	resp, err := rt.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/v1/tile",
	})
	require.NoError(t, err)

	assert.True(t, resp.IsBase64Encoded)
	decoded, decErr := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, decErr)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, decoded)
}

func TestHandle_UnknownPath(t *testing.T) {
	rt := New(testHandler())

	resp, err := rt.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/nope",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Endpoint not found"}`, resp.Body)
}

func TestHandle_MalformedBase64Body(t *testing.T) {
	rt := New(testHandler())

	resp, err := rt.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/v1/body",
		Body:            "%%%not-base64%%%",
		IsBase64Encoded: true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"malformed request event"}`, resp.Body)
}

func TestHandle_ForwardsHeaders(t *testing.T) {
	r := chi.NewRouter()
	var got string
	r.Get("/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-Id")
		w.Write([]byte(`{}`))
	})

	_, err := New(r).Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/v1/echo",
		Headers:    map[string]string{"X-Request-Id": "req-123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-123", got)
}
