package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/core"
	"farmsight/internal/external"
	"farmsight/internal/types"
)

// zoomFallbacks are tried after the requested zoom when the provider has no
// tile at that level for the date. Order matters: nearby zooms first.
var zoomFallbacks = []int{10, 9, 8, 11, 12}

// RenderHandler proxies binary render tiles from the imagery provider. It is
// a peripheral convenience endpoint: no task submission, no polling, just a
// slippy-tile conversion and a passthrough of the provider's image bytes.
type RenderHandler struct {
	creds       *external.CredentialSource
	baseURL     string
	defaultTile string
	client      *http.Client
	logger      *slog.Logger
}

// NewRenderHandler creates a RenderHandler. baseURL is the provider API base;
// defaultTile is the MGRS tile used when the caller does not pass one.
func NewRenderHandler(creds *external.CredentialSource, baseURL, defaultTile string, logger *slog.Logger) *RenderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderHandler{
		creds:       creds,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		defaultTile: defaultTile,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

// Routes registers the render endpoint on the given router group.
func (h *RenderHandler) Routes(r chi.Router) {
	r.Get("/eos/render", h.Render)
}

// Render handles GET /eos/render?lat=&lng=&date=&index=&z=&tile=.
// The requested zoom is tried first, then the fallback levels; the first
// successful tile is streamed back with caching disabled.
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidParam,
			"lat and lng are required",
			nil,
		))
		return
	}

	date := q.Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	year, month, day, err := splitDate(date)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// The render API only reliably serves NDVI here; other bands are coerced.
	index := "NDVI"

	tile := q.Get("tile")
	if tile == "" {
		tile = h.defaultTile
	}

	apiKey, err := h.creds.APIKey(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var lastErr error
	for _, zoom := range zoomCandidates(intParam(r, "z", 10)) {
		x, y := toXYZ(lat, lng, zoom)
		tileURL := fmt.Sprintf("%s/render/S2/%s/%d/%d/%d/0/%s/%d/%d/%d?api_key=%s",
			h.baseURL, tile, year, month, day, index, zoom, x, y, apiKey)

		ok, proxyErr := h.proxyTile(w, r, tileURL)
		if ok {
			return
		}
		if proxyErr != nil {
			lastErr = proxyErr
		}
	}

	if lastErr == nil {
		lastErr = types.NewAppError(types.ErrCodeUpstreamEOS, "Render failed", nil)
	}
	core.Error(w, r, lastErr)
}

// proxyTile fetches one tile URL. It returns true when the image was streamed
// to the client; a non-2xx or transport failure returns false with the error
// to remember for the final response.
func (h *RenderHandler) proxyTile(w http.ResponseWriter, r *http.Request, tileURL string) (bool, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, tileURL, nil)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create render request", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "render tile fetch failed", "error", err)
		return false, types.NewAppError(types.ErrCodeUpstreamEOS, "render tile fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		h.logger.WarnContext(r.Context(), "render tile unavailable",
			"status", resp.StatusCode,
		)
		return false, types.NewAppError(
			types.ErrCodeUpstreamEOS,
			fmt.Sprintf("Render %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			nil,
		)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
	return true, nil
}

// zoomCandidates returns the requested zoom followed by the fallback levels,
// deduplicated and order-preserving.
func zoomCandidates(requested int) []int {
	seen := make(map[int]struct{}, len(zoomFallbacks)+1)
	out := make([]int, 0, len(zoomFallbacks)+1)
	for _, z := range append([]int{requested}, zoomFallbacks...) {
		if _, dup := seen[z]; dup {
			continue
		}
		seen[z] = struct{}{}
		out = append(out, z)
	}
	return out
}

// toXYZ converts a lat/lng pair to slippy-map tile coordinates at zoom z.
func toXYZ(lat, lng float64, z int) (x, y int) {
	n := math.Pow(2, float64(z))
	x = int(math.Floor((lng + 180) / 360 * n))
	latRad := lat * math.Pi / 180
	y = int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))
	return x, y
}

// splitDate parses a YYYY-MM-DD date into its numeric parts, matching the
// provider's unpadded month and day path segments.
func splitDate(date string) (year, month, day int, err error) {
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return 0, 0, 0, types.NewAppError(
			types.ErrCodeValidationInvalidDate,
			"date must be formatted YYYY-MM-DD",
			nil,
		)
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	day, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, types.NewAppError(
			types.ErrCodeValidationInvalidDate,
			"date must be formatted YYYY-MM-DD",
			nil,
		)
	}
	return year, month, day, nil
}
