package stats

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmsight/internal/types"
)

type fakeRequester struct {
	mu     sync.Mutex
	bodies []submitRequest
}

func (f *fakeRequester) Request(_ context.Context, _ string, body any) (json.RawMessage, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, body.(submitRequest))
	f.mu.Unlock()
	return json.RawMessage(`{"status":"completed","data":[]}`), nil
}

func (f *fakeRequester) calls() []submitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitRequest(nil), f.bodies...)
}

type fakePoller struct{}

func (fakePoller) PollUntilDone(_ context.Context, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"completed","data":[]}`), nil
}

func testGeometry(t *testing.T) *types.Geometry {
	t.Helper()
	geom, err := types.ParseGeometry([]byte(
		`{"type":"Polygon","coordinates":[[[35.0,0.0],[35.1,0.0],[35.1,0.1],[35.0,0.1],[35.0,0.0]]]}`,
	))
	require.NoError(t, err)
	return geom
}

func newTestService(client Requester) *Service {
	svc := NewService(client, fakePoller{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestGetVegStats_IndexCeilingEnforcedBeforeNetwork(t *testing.T) {
	client := &fakeRequester{}
	svc := newTestService(client)

	for _, indices := range [][]string{
		{"NDVI", "NDWI", "EVI", "RECI"},
		{"NDVI", "NDWI", "EVI", "RECI", "NDMI"},
	} {
		_, err := svc.GetVegStats(context.Background(), indices, "2026-01-01", "2026-02-01", testGeometry(t))

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationTooManyIndices, appErr.Code)
	}
	assert.Empty(t, client.calls(), "validation failures must never reach the network")
}

func TestGetVegStats_SubmitsAndTags(t *testing.T) {
	client := &fakeRequester{}
	svc := newTestService(client)
	geom := testGeometry(t)

	res, err := svc.GetVegStats(context.Background(), []string{"NDVI", "NDWI"}, "2026-01-01", "2026-02-01", geom)
	require.NoError(t, err)

	body := client.calls()[0]
	assert.Equal(t, "mt_stats", body.Type)
	assert.Equal(t, "NDVI,NDWI", body.Params.BmType)
	assert.Equal(t, "2026-01-01", body.Params.DateStart)
	assert.Equal(t, "2026-02-01", body.Params.DateEnd)
	assert.Equal(t, []string{"sentinel2"}, body.Params.Sensors)

	assert.Equal(t, geom.Hash(), res.GeometryHash)
	assert.Equal(t, []string{"NDVI", "NDWI"}, res.Indices)
	assert.Equal(t, DateRange{Start: "2026-01-01", End: "2026-02-01"}, res.DateRange)
}

func TestGetComprehensiveStats_ChunksIndices(t *testing.T) {
	client := &fakeRequester{}
	svc := newTestService(client)

	indices := []string{"NDVI", "NDWI", "EVI", "RECI", "NDMI", "SAVI", "GNDVI"}
	bundle, err := svc.GetComprehensiveStats(context.Background(), indices, testGeometry(t), nil)
	require.NoError(t, err)

	calls := client.calls()
	assert.Len(t, calls, 9, "3 chunks x 3 default periods")

	// Every call respects the per-request ceiling and the chunks of each
	// period sum back to the full index set.
	perRange := make(map[string][]string)
	for _, call := range calls {
		indexCount := len(splitCSV(call.Params.BmType))
		assert.LessOrEqual(t, indexCount, MaxIndicesPerRequest)
		key := call.Params.DateStart + ".." + call.Params.DateEnd
		perRange[key] = append(perRange[key], splitCSV(call.Params.BmType)...)
	}
	require.Len(t, perRange, 3)
	for _, got := range perRange {
		assert.ElementsMatch(t, indices, got)
	}

	require.Len(t, bundle.Statistics, 3)
	for _, period := range []string{"last_30_days", "last_90_days", "last_year"} {
		results := bundle.Statistics[period]
		require.Len(t, results, 3, "one result per chunk in %s", period)
		assert.Equal(t, []string{"NDVI", "NDWI", "EVI"}, results[0].Indices)
		assert.Equal(t, []string{"GNDVI"}, results[2].Indices)
	}
}

func TestGetComprehensiveStats_DefaultPeriodDateArithmetic(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	periods := DefaultPeriods(now)

	require.Len(t, periods, 3)
	assert.Equal(t, Period{Name: "last_30_days", Range: DateRange{Start: "2026-08-01", End: "2026-08-31"}}, periods[0])
	assert.Equal(t, Period{Name: "last_90_days", Range: DateRange{Start: "2026-06-02", End: "2026-08-31"}}, periods[1])
	assert.Equal(t, Period{Name: "last_year", Range: DateRange{Start: "2025-08-31", End: "2026-08-31"}}, periods[2])
}

func TestGetComprehensiveStats_AllOrNothing(t *testing.T) {
	client := &failingRequester{failOn: "RECI"}
	svc := NewService(client, fakePoller{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bundle, err := svc.GetComprehensiveStats(context.Background(), []string{"NDVI", "NDWI", "EVI", "RECI"}, testGeometry(t), nil)

	assert.Nil(t, bundle)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAggregationFailed, appErr.Code)
	assert.Contains(t, appErr.Message, "Failed to get comprehensive statistics")
	assert.Equal(t, http.StatusBadGateway, appErr.HTTPStatus(), "upstream cause decides the status")
}

// failingRequester rejects any chunk containing failOn.
type failingRequester struct {
	failOn string
}

func (f *failingRequester) Request(_ context.Context, _ string, body any) (json.RawMessage, error) {
	req := body.(submitRequest)
	for _, idx := range splitCSV(req.Params.BmType) {
		if idx == f.failOn {
			return nil, types.NewAppError(types.ErrCodeUpstreamEOS, "chunk rejected", nil)
		}
	}
	return json.RawMessage(`{"status":"completed","data":[]}`), nil
}

func TestChunkIndices(t *testing.T) {
	assert.Nil(t, chunkIndices(nil, 3))
	assert.Equal(t, [][]string{{"a"}}, chunkIndices([]string{"a"}, 3))
	assert.Equal(t,
		[][]string{{"a", "b", "c"}, {"d", "e", "f"}, {"g"}},
		chunkIndices([]string{"a", "b", "c", "d", "e", "f", "g"}, 3),
	)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
