// Package stats orchestrates multi-temporal vegetation statistics queries:
// per-index time series over named time windows, chunked to the provider's
// per-request index ceiling and fetched in parallel.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"farmsight/internal/external"
	"farmsight/internal/types"
)

// MaxIndicesPerRequest is the provider-imposed ceiling on indices per
// statistics request. Larger index sets are split into chunks of this size.
const MaxIndicesPerRequest = 3

// statsSensors is the satellite constellation queried for statistics.
var statsSensors = []string{"sentinel2"}

const dateLayout = "2006-01-02"

// Requester issues authenticated submission requests to the statistics
// provider.
type Requester interface {
	Request(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// TaskPoller drives an asynchronous provider task to completion.
type TaskPoller interface {
	PollUntilDone(ctx context.Context, taskID string) (json.RawMessage, error)
}

// DateRange bounds a statistics query, inclusive, as calendar dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IndexSeries is the provider's per-index statistics entry: one vegetation
// index and its observed values over the queried window.
type IndexSeries struct {
	Index  string    `json:"index"`
	Values []float64 `json:"values"`
}

// Result is a provider statistics payload tagged with the geometry
// fingerprint, the requested indices, and the queried date range.
type Result struct {
	TaskID       string              `json:"task_id,omitempty"`
	Status       external.TaskStatus `json:"status,omitempty"`
	Data         []IndexSeries       `json:"data,omitempty"`
	GeometryHash string              `json:"geometry_hash"`
	Indices      []string            `json:"indices"`
	DateRange    DateRange           `json:"date_range"`
}

// Period is a named time window for comprehensive statistics.
type Period struct {
	Name  string
	Range DateRange
}

// Bundle is the assembled output of a comprehensive statistics request:
// flattened chunk results keyed by period name.
type Bundle struct {
	FarmGeometry *types.Geometry      `json:"farm_geometry"`
	Statistics   map[string][]*Result `json:"statistics"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// submitRequest is the provider's task submission envelope.
type submitRequest struct {
	Type   string       `json:"type"`
	Params submitParams `json:"params"`
}

type submitParams struct {
	BmType    string          `json:"bm_type"`
	DateStart string          `json:"date_start"`
	DateEnd   string          `json:"date_end"`
	Geometry  *types.Geometry `json:"geometry"`
	Reference string          `json:"reference"`
	Sensors   []string        `json:"sensors"`
}

type submitAck struct {
	TaskID string `json:"task_id"`
}

// Service implements the statistics aggregation operations.
type Service struct {
	client Requester
	poller TaskPoller
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a statistics Service.
func NewService(client Requester, poller TaskPoller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		poller: poller,
		logger: logger,
		now:    time.Now,
	}
}

// DefaultPeriods returns the standard comprehensive-statistics windows, each
// ending today: the last 30 days, the last 90 days, and the last 365 days.
// Day arithmetic, not calendar-month alignment.
func DefaultPeriods(now time.Time) []Period {
	end := now.UTC().Format(dateLayout)
	daysBack := func(n int) string {
		return now.UTC().AddDate(0, 0, -n).Format(dateLayout)
	}
	return []Period{
		{Name: "last_30_days", Range: DateRange{Start: daysBack(30), End: end}},
		{Name: "last_90_days", Range: DateRange{Start: daysBack(90), End: end}},
		{Name: "last_year", Range: DateRange{Start: daysBack(365), End: end}},
	}
}

// GetVegStats submits a multi-temporal statistics request for the given
// indices over [dateStart, dateEnd]. The index-count ceiling is enforced
// before any network interaction.
func (s *Service) GetVegStats(ctx context.Context, indices []string, dateStart, dateEnd string, geom *types.Geometry) (*Result, error) {
	if len(indices) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"at least one vegetation index is required",
			nil,
		)
	}
	if len(indices) > MaxIndicesPerRequest {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationTooManyIndices,
			fmt.Sprintf("Maximum %d indices per statistics request", MaxIndicesPerRequest),
			nil,
			map[string]any{"requested": len(indices), "maximum": MaxIndicesPerRequest},
		)
	}

	body := submitRequest{
		Type: "mt_stats",
		Params: submitParams{
			BmType:    strings.Join(indices, ","),
			DateStart: dateStart,
			DateEnd:   dateEnd,
			Geometry:  geom,
			Reference: fmt.Sprintf("stats_%s", uuid.NewString()[:8]),
			Sensors:   statsSensors,
		},
	}

	raw, err := s.client.Request(ctx, external.GDWPath, body)
	if err != nil {
		return nil, err
	}

	var ack submitAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamEOS,
			"failed to decode EOS submission response",
			err,
		)
	}

	if ack.TaskID != "" {
		raw, err = s.poller.PollUntilDone(ctx, ack.TaskID)
		if err != nil {
			return nil, err
		}
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamEOS,
			"failed to decode EOS statistics payload",
			err,
		)
	}

	res.GeometryHash = geom.Hash()
	res.Indices = indices
	res.DateRange = DateRange{Start: dateStart, End: dateEnd}
	return &res, nil
}

// GetComprehensiveStats fetches statistics for the given indices over every
// period, chunking the index set to the per-request ceiling. All period/chunk
// requests run in parallel; any single failure fails the whole call and
// cancels in-flight siblings through the group context.
//
// Passing nil periods selects DefaultPeriods.
func (s *Service) GetComprehensiveStats(ctx context.Context, indices []string, geom *types.Geometry, periods []Period) (*Bundle, error) {
	if len(periods) == 0 {
		periods = DefaultPeriods(s.now())
	}

	chunks := chunkIndices(indices, MaxIndicesPerRequest)

	// results[p][c] holds the result of chunk c within period p so that the
	// flattened output preserves chunk order.
	results := make([][]*Result, len(periods))
	for p := range periods {
		results[p] = make([]*Result, len(chunks))
	}

	g, gCtx := errgroup.WithContext(ctx)
	for p, period := range periods {
		for c, chunk := range chunks {
			p, period, c, chunk := p, period, c, chunk
			g.Go(func() error {
				res, err := s.GetVegStats(gCtx, chunk, period.Range.Start, period.Range.End, geom)
				if err != nil {
					return fmt.Errorf("period %s: %w", period.Name, err)
				}
				results[p][c] = res
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "comprehensive statistics aggregation failed",
			"indices", indices,
			"error", err,
		)
		return nil, types.NewAppError(
			types.ErrCodeAggregationFailed,
			fmt.Sprintf("Failed to get comprehensive statistics: %s", err.Error()),
			err,
		)
	}

	statistics := make(map[string][]*Result, len(periods))
	for p, period := range periods {
		statistics[period.Name] = results[p]
	}

	return &Bundle{
		FarmGeometry: geom,
		Statistics:   statistics,
		GeneratedAt:  s.now().UTC(),
	}, nil
}

// chunkIndices splits indices into groups of at most size, preserving order.
func chunkIndices(indices []string, size int) [][]string {
	if len(indices) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(indices)+size-1)/size)
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		chunks = append(chunks, indices[start:end])
	}
	return chunks
}
