package types

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// geometryHashLength is the number of hex characters kept from the digest.
// Short enough for compact result tagging, long enough to avoid collisions
// across the handful of farm polygons the platform tracks.
const geometryHashLength = 8

// Geometry is a GeoJSON polygon describing a farm's area of interest.
// It is owned by the caller and passed by reference into every downstream
// imagery and statistics call; nothing mutates it after construction.
type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// ParseGeometry decodes a GeoJSON polygon from its JSON encoding and
// validates it. Returns a validation AppError on malformed input.
func ParseGeometry(raw []byte) (*Geometry, error) {
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, NewAppError(
			ErrCodeValidationInvalidGeometry,
			"geometry must be valid GeoJSON",
			err,
		)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the polygon invariants: the type tag, a ring of at least
// 4 points, and ring closure (first coordinate equals last).
func (g *Geometry) Validate() error {
	if g.Type != "Polygon" {
		return NewAppError(
			ErrCodeValidationInvalidGeometry,
			"geometry type must be Polygon",
			nil,
		)
	}
	if len(g.Coordinates) == 0 {
		return NewAppError(
			ErrCodeValidationInvalidGeometry,
			"geometry must contain at least one ring",
			nil,
		)
	}
	ring := g.Coordinates[0]
	if len(ring) < 4 {
		return NewAppError(
			ErrCodeValidationInvalidGeometry,
			"polygon ring must contain at least 4 points",
			nil,
		)
	}
	if ring[0] != ring[len(ring)-1] {
		return NewAppError(
			ErrCodeValidationInvalidGeometry,
			"polygon ring must be closed (first point must equal last)",
			nil,
		)
	}
	return nil
}

// Hash returns a short deterministic fingerprint of the polygon, used to tag
// imagery and statistics results for a given area of interest.
//
// The JSON encoding of the typed struct has a fixed field order, so two
// structurally equal geometries always hash identically regardless of how
// the caller's input JSON ordered its keys.
func (g *Geometry) Hash() string {
	data, err := json.Marshal(g)
	if err != nil {
		// A Geometry of plain floats cannot fail to marshal; guard anyway.
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:geometryHashLength]
}
