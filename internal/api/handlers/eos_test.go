package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmsight/internal/imagery"
	"farmsight/internal/stats"
)

const testPolygonJSON = `{"type":"Polygon","coordinates":[[[35.0,0.0],[35.1,0.0],[35.1,0.1],[35.0,0.1],[35.0,0.0]]]}`

// stubEOS answers every submission synchronously with a fixed payload.
type stubEOS struct {
	calls   atomic.Int64
	payload string
}

func (s *stubEOS) Request(context.Context, string, any) (json.RawMessage, error) {
	s.calls.Add(1)
	return json.RawMessage(s.payload), nil
}

type stubPoller struct{}

func (stubPoller) PollUntilDone(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"completed"}`), nil
}

func newTestRouter(eos *stubEOS) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	imagerySvc := imagery.NewService(eos, stubPoller{}, logger)
	statsSvc := stats.NewService(eos, stubPoller{}, logger)

	r := chi.NewRouter()
	NewEOSHandler(imagerySvc, statsSvc, logger).Routes(r)
	return r
}

func get(t *testing.T, handler http.Handler, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil))
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestNaturalColor_MissingParamsListsAll(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed"}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/imagery/natural", url.Values{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required parameters: view_id, geometry", errorMessage(t, rec))
	assert.Zero(t, eos.calls.Load(), "validation failures must not reach the provider")
}

func TestNaturalColor_MalformedGeometry(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed"}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/imagery/natural", url.Values{
		"view_id":  {"v1"},
		"geometry": {`{"type":"Point"}`},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "geometry type must be Polygon", errorMessage(t, rec))
	assert.Zero(t, eos.calls.Load())
}

func TestNaturalColor_Success(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed","result":{"url":"img"}}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/imagery/natural", url.Values{
		"view_id":  {"v1"},
		"geometry": {testPolygonJSON},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["geometry_hash"])
	assert.Equal(t, "natural_color", body["image_type"])
}

func TestIndexImage_TagsRequestedIndex(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed"}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/imagery/index/NDVI", url.Values{
		"view_id":  {"v1"},
		"geometry": {testPolygonJSON},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NDVI", body["index_type"])
}

func TestComprehensiveImagery_Success(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed"}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/imagery/comprehensive", url.Values{
		"view_id":  {"v1"},
		"geometry": {testPolygonJSON},
		"indices":  {"NDVI,EVI"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, eos.calls.Load(), "natural color plus one call per index")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	indices, ok := body["vegetation_indices"].(map[string]any)
	require.True(t, ok, "body: %v", body)
	assert.Contains(t, indices, "NDVI")
	assert.Contains(t, indices, "EVI")
}

func TestVegStats_TooManyIndices(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed","data":[]}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/stats", url.Values{
		"view_id":  {"v1"},
		"indices":  {"NDVI,NDWI,EVI,RECI"},
		"from":     {"2026-01-01"},
		"to":       {"2026-02-01"},
		"geometry": {testPolygonJSON},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Maximum 3 indices per statistics request", errorMessage(t, rec))
	assert.Zero(t, eos.calls.Load())
}

func TestVegStats_Success(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed","data":[{"index":"NDVI","values":[0.6,0.7]}]}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/stats", url.Values{
		"indices":  {"NDVI"},
		"from":     {"2026-01-01"},
		"to":       {"2026-02-01"},
		"geometry": {testPolygonJSON},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["geometry_hash"])
	assert.Equal(t, map[string]any{"start": "2026-01-01", "end": "2026-02-01"}, body["date_range"])
}

func TestHealthScore_DerivesFromStatistics(t *testing.T) {
	eos := &stubEOS{payload: `{"status":"completed","data":[` +
		`{"index":"NDVI","values":[0.8]},{"index":"NDWI","values":[0.8]}]}`}
	router := newTestRouter(eos)

	rec := get(t, router, "/eos/stats/health", url.Values{
		"indices":  {"NDVI,NDWI"},
		"from":     {"2026-01-01"},
		"to":       {"2026-02-01"},
		"geometry": {testPolygonJSON},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		HealthScore stats.HealthScore `json:"health_score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 80, body.HealthScore.Score)
	assert.Equal(t, stats.HealthExcellent, body.HealthScore.Status)
}

func TestCSVParamDropsEmptyEntries(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?indices=NDVI,+,EVI,", nil)
	assert.Equal(t, []string{"NDVI", "EVI"}, csvParam(req, "indices"))
	assert.Nil(t, csvParam(req, "absent"))
}

func TestIntParamFallsBack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?px_size=20&bad=abc&neg=-3", nil)
	assert.Equal(t, 20, intParam(req, "px_size", 10))
	assert.Equal(t, 10, intParam(req, "bad", 10))
	assert.Equal(t, 10, intParam(req, "neg", 10))
	assert.Equal(t, 10, intParam(req, "absent", 10))
}
