package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmsight/internal/external"
	"farmsight/internal/types"
)

func TestToXYZ(t *testing.T) {
	cases := []struct {
		lat, lng float64
		z        int
		x, y     int
	}{
		{0, 0, 10, 512, 512},
		{0, 0, 0, 0, 0},
		{0.5143, 35.2698, 10, 612, 510},
		{-1.17, 36.83, 10, 616, 515},
	}
	for _, tc := range cases {
		x, y := toXYZ(tc.lat, tc.lng, tc.z)
		assert.Equal(t, tc.x, x, "x for lat=%v lng=%v z=%d", tc.lat, tc.lng, tc.z)
		assert.Equal(t, tc.y, y, "y for lat=%v lng=%v z=%d", tc.lat, tc.lng, tc.z)
	}
}

func TestZoomCandidates(t *testing.T) {
	assert.Equal(t, []int{10, 9, 8, 11, 12}, zoomCandidates(10), "requested zoom must not repeat in the fallbacks")
	assert.Equal(t, []int{14, 10, 9, 8, 11, 12}, zoomCandidates(14))
}

func TestSplitDate(t *testing.T) {
	year, month, day, err := splitDate("2026-03-07")
	require.NoError(t, err)
	assert.Equal(t, []int{2026, 3, 7}, []int{year, month, day})

	for _, bad := range []string{"2026/03/07", "March 7", "2026-3", "yyyy-mm-dd"} {
		_, _, _, err := splitDate(bad)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr, "input %q", bad)
		assert.Equal(t, types.ErrCodeValidationInvalidDate, appErr.Code)
	}
}

func newRenderHandler(baseURL string) *RenderHandler {
	creds := external.NewCredentialSource(types.SecretString("render-key"), "", nil)
	return NewRenderHandler(creds, baseURL, "36/N/YF", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func renderRequest(params url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/eos/render?"+params.Encode(), nil)
}

func TestRender_RequiresCoordinates(t *testing.T) {
	h := newRenderHandler("http://unused.invalid")

	rec := httptest.NewRecorder()
	h.Render(rec, renderRequest(url.Values{"lat": {"0.5"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "lat and lng are required", errorMessage(t, rec))
}

func TestRender_RejectsMalformedDate(t *testing.T) {
	h := newRenderHandler("http://unused.invalid")

	rec := httptest.NewRecorder()
	h.Render(rec, renderRequest(url.Values{
		"lat":  {"0.5143"},
		"lng":  {"35.2698"},
		"date": {"07/03/2026"},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "date must be formatted YYYY-MM-DD", errorMessage(t, rec))
}

func TestRender_StreamsFirstAvailableTile(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "render-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	h := newRenderHandler(server.URL)
	rec := httptest.NewRecorder()
	h.Render(rec, renderRequest(url.Values{
		"lat":  {"0.5143"},
		"lng":  {"35.2698"},
		"date": {"2026-03-07"},
		"z":    {"10"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	require.Len(t, paths, 1)
	x, y := toXYZ(0.5143, 35.2698, 10)
	assert.Equal(t, fmt.Sprintf("/render/S2/36/N/YF/2026/3/7/0/NDVI/10/%d/%d", x, y), paths[0],
		"month and day must be unpadded in the tile path")
}

func TestRender_FallsBackAcrossZoomLevels(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if strings.Contains(r.URL.Path, "/NDVI/10/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("zoom9-tile"))
	}))
	defer server.Close()

	h := newRenderHandler(server.URL)
	rec := httptest.NewRecorder()
	h.Render(rec, renderRequest(url.Values{
		"lat": {"0.5143"},
		"lng": {"35.2698"},
		"z":   {"10"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zoom9-tile", rec.Body.String())
	assert.Equal(t, 2, requests, "the second candidate zoom must have served the tile")
}

func TestRender_AllZoomsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no tile"))
	}))
	defer server.Close()

	h := newRenderHandler(server.URL)
	rec := httptest.NewRecorder()
	h.Render(rec, renderRequest(url.Values{
		"lat": {"0.5143"},
		"lng": {"35.2698"},
	}))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Render 404: no tile", errorMessage(t, rec))
}
