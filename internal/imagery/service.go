// Package imagery orchestrates satellite image acquisition for farm polygons:
// natural color composites and per-index vegetation renders, fanned out in
// parallel and assembled into a keyed bundle.
package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"farmsight/internal/external"
	"farmsight/internal/types"
)

// DefaultPixelSize is the ground resolution in meters used when the caller
// does not specify one.
const DefaultPixelSize = 10

// naturalColorBands is the RGB band composite for natural color imagery.
const naturalColorBands = "B04,B03,B02"

// DefaultIndices is the vegetation index set requested when the caller does
// not name specific indices.
var DefaultIndices = []string{"NDVI", "RECI", "NDMI", "EVI"}

// ImageType classifies an imagery result.
type ImageType string

const (
	ImageTypeNaturalColor    ImageType = "natural_color"
	ImageTypeVegetationIndex ImageType = "vegetation_index"
)

// Requester issues authenticated submission requests to the imagery provider.
type Requester interface {
	Request(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// TaskPoller drives an asynchronous provider task to completion.
type TaskPoller interface {
	PollUntilDone(ctx context.Context, taskID string) (json.RawMessage, error)
}

// Result is a provider imagery payload tagged with the geometry fingerprint
// and a classification. Payload carries the provider's result fields that the
// typed view does not model.
type Result struct {
	TaskID       string              `json:"task_id,omitempty"`
	Status       external.TaskStatus `json:"status,omitempty"`
	Payload      json.RawMessage     `json:"result,omitempty"`
	GeometryHash string              `json:"geometry_hash"`
	ImageType    ImageType           `json:"image_type"`
	IndexType    string              `json:"index_type,omitempty"`
}

// Bundle is the assembled output of a comprehensive imagery request: the
// natural color composite plus one result per requested vegetation index.
type Bundle struct {
	NaturalColor      *Result            `json:"natural_color"`
	VegetationIndices map[string]*Result `json:"vegetation_indices"`
	FarmGeometry      *types.Geometry    `json:"farm_geometry"`
	ViewID            string             `json:"view_id"`
	Timestamp         time.Time          `json:"timestamp"`
}

// submitRequest is the provider's task submission envelope.
type submitRequest struct {
	Type   string       `json:"type"`
	Params submitParams `json:"params"`
}

type submitParams struct {
	ViewID    string          `json:"view_id"`
	BmType    string          `json:"bm_type"`
	Geometry  *types.Geometry `json:"geometry"`
	PxSize    int             `json:"px_size,omitempty"`
	Format    string          `json:"format,omitempty"`
	NameAlias string          `json:"name_alias,omitempty"`
	Reference string          `json:"reference"`
}

// submitAck is the minimal view of a submission response: a task identifier
// when the provider chose to process asynchronously.
type submitAck struct {
	TaskID string `json:"task_id"`
}

// Service implements the imagery aggregation operations.
type Service struct {
	client Requester
	poller TaskPoller
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an imagery Service.
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

// GetNaturalColor requests a natural color (RGB composite) image for the farm
// polygon. pxSize <= 0 falls back to DefaultPixelSize. If the provider
// processes asynchronously, the task is polled to completion. The result is
// tagged with the geometry hash regardless of whether the provider answered
// synchronously.
func (s *Service) GetNaturalColor(ctx context.Context, viewID string, geom *types.Geometry, pxSize int) (*Result, error) {
	if pxSize <= 0 {
		pxSize = DefaultPixelSize
	}

	body := submitRequest{
		Type: "jpeg",
		Params: submitParams{
			ViewID:    viewID,
			BmType:    naturalColorBands,
			Geometry:  geom,
			PxSize:    pxSize,
			Format:    "png",
			Reference: newReference("natcolor"),
		},
	}

	res, err := s.submitAndResolve(ctx, body)
	if err != nil {
		return nil, err
	}

	res.GeometryHash = geom.Hash()
	res.ImageType = ImageTypeNaturalColor
	return res, nil
}

// GetIndexImage requests a single band-math vegetation index render (NDVI,
// RECI, NDMI, ...) for the farm polygon.
func (s *Service) GetIndexImage(ctx context.Context, viewID, index string, geom *types.Geometry) (*Result, error) {
	body := submitRequest{
		Type: "bandmath",
		Params: submitParams{
			ViewID:    viewID,
			BmType:    index,
			Geometry:  geom,
			NameAlias: index,
			Reference: newReference(index),
		},
	}

	res, err := s.submitAndResolve(ctx, body)
	if err != nil {
		return nil, err
	}

	res.GeometryHash = geom.Hash()
	res.ImageType = ImageTypeVegetationIndex
	res.IndexType = index
	return res, nil
}

// GetComprehensiveImagery issues the natural color request and one index
// request per entry of indices, all in parallel, and waits for the full set.
// Any single failure fails the whole operation; in-flight siblings are
// cancelled through the group context and no partial bundle is returned.
func (s *Service) GetComprehensiveImagery(ctx context.Context, viewID string, geom *types.Geometry, indices []string) (*Bundle, error) {
	if len(indices) == 0 {
		indices = DefaultIndices
	}

	var naturalColor *Result
	indexResults := make([]*Result, len(indices))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := s.GetNaturalColor(gCtx, viewID, geom, DefaultPixelSize)
		if err != nil {
			return err
		}
		naturalColor = res
		return nil
	})

	for i, index := range indices {
		i, index := i, index
		g.Go(func() error {
			res, err := s.GetIndexImage(gCtx, viewID, index, geom)
			if err != nil {
				return err
			}
			indexResults[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "comprehensive imagery aggregation failed",
			"view_id", viewID,
			"indices", indices,
			"error", err,
		)
		return nil, types.NewAppError(
			types.ErrCodeAggregationFailed,
			fmt.Sprintf("Failed to get comprehensive imagery: %s", errMessage(err)),
			err,
		)
	}

	vegetation := make(map[string]*Result, len(indices))
	for i, index := range indices {
		vegetation[index] = indexResults[i]
	}

	return &Bundle{
		NaturalColor:      naturalColor,
		VegetationIndices: vegetation,
		FarmGeometry:      geom,
		ViewID:            viewID,
		Timestamp:         s.now().UTC(),
	}, nil
}

// submitAndResolve submits a task and resolves its final payload: either the
// synchronous submission response, or the polled terminal payload when the
// provider returned a task identifier.
func (s *Service) submitAndResolve(ctx context.Context, body submitRequest) (*Result, error) {
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
			"failed to decode EOS imagery payload",
			err,
		)
	}
	return &res, nil
}

// newReference builds a unique submission reference for provider-side
// traceability.
func newReference(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

// errMessage extracts the human-readable message from an error chain,
// preferring the AppError message over the raw chain formatting.
func errMessage(err error) string {
	if appErr, ok := err.(*types.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
