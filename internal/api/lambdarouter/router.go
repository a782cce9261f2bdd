// Package lambdarouter bridges AWS API Gateway proxy events onto the chi
// router, so the same handler tree serves both the local HTTP server and the
// Lambda deployment.
package lambdarouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// binaryContentTypes lists response content types that must be base64-encoded
// in the proxy envelope. The render proxy streams images.
var binaryContentTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
}

// Router adapts APIGatewayProxyRequest events to an http.Handler.
type Router struct {
	handler http.Handler
}

// New creates a Router over the given handler.
func New(handler http.Handler) *Router {
	return &Router{handler: handler}
}

// Handle serves one proxy event and returns the proxy response envelope.
func (rt *Router) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := rt.buildRequest(ctx, event)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"malformed request event"}`,
		}, nil
	}

	rec := &responseRecorder{header: make(http.Header), status: http.StatusOK}
	rt.handler.ServeHTTP(rec, req)

	return rec.toProxyResponse(), nil
}

// buildRequest converts the proxy event into an http.Request carrying the
// method, path, query string, headers, and body.
func (rt *Router) buildRequest(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	u := &url.URL{Path: event.Path}

	query := url.Values{}
	for k, v := range event.QueryStringParameters {
		query.Set(k, v)
	}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()

	var body []byte
	if event.Body != "" {
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return nil, err
			}
			body = decoded
		} else {
			body = []byte(event.Body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, event.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return req, nil
}

// responseRecorder captures the handler's response for envelope conversion.
type responseRecorder struct {
	header  http.Header
	status  int
	body    bytes.Buffer
	written bool
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.written = true
	}
	return r.body.Write(b)
}

func (r *responseRecorder) toProxyResponse() events.APIGatewayProxyResponse {
	headers := make(map[string]string, len(r.header))
	for k, vs := range r.header {
		headers[k] = strings.Join(vs, ", ")
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}

	contentType := headers["Content-Type"]
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	if _, binary := binaryContentTypes[contentType]; binary {
		return events.APIGatewayProxyResponse{
			StatusCode:      r.status,
			Headers:         headers,
			Body:            base64.StdEncoding.EncodeToString(r.body.Bytes()),
			IsBase64Encoded: true,
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: r.status,
		Headers:    headers,
		Body:       r.body.String(),
	}
}
