package stats

import (
	"fmt"
	"math"
)

// HealthStatus is the qualitative classification of a farm health score.
type HealthStatus string

const (
	HealthExcellent        HealthStatus = "excellent"
	HealthGood             HealthStatus = "good"
	HealthFair             HealthStatus = "fair"
	HealthPoor             HealthStatus = "poor"
	HealthInsufficientData HealthStatus = "insufficient_data"
	HealthError            HealthStatus = "error"
)

// HealthMetrics carries the intermediate averages behind a health score.
type HealthMetrics struct {
	AvgNDVI float64 `json:"avg_ndvi"`
	AvgNDWI float64 `json:"avg_ndwi"`
}

// HealthScore is a derived 0-100 composite of NDVI and NDWI averages plus a
// qualitative status. Stateless, recomputed on demand, never persisted.
type HealthScore struct {
	Score   int            `json:"score"`
	Status  HealthStatus   `json:"status"`
	Metrics *HealthMetrics `json:"metrics,omitempty"`
	Message string         `json:"message"`
}

// CalculateFarmHealthScore derives a health score from aggregated vegetation
// statistics. It requires both an NDVI and an NDWI series in the result data;
// if either is absent it reports insufficient_data without computing anything.
//
// The score is round(avgNDVI*50 + avgNDWI*50), clamped to [0,100], with
// thresholds 70/50/30 separating excellent, good, fair, and poor.
//
// This function never returns an error: an unexpected internal panic is
// converted to a status of "error".
func CalculateFarmHealthScore(result *Result) (score HealthScore) {
	defer func() {
		if r := recover(); r != nil {
			score = HealthScore{
				Score:   0,
				Status:  HealthError,
				Message: fmt.Sprintf("Failed to calculate health score: %v", r),
			}
		}
	}()

	var ndvi, ndwi *IndexSeries
	if result != nil {
		ndvi = findSeries(result.Data, "NDVI")
		ndwi = findSeries(result.Data, "NDWI")
	}
	if ndvi == nil || ndwi == nil {
		return HealthScore{
			Score:   0,
			Status:  HealthInsufficientData,
			Message: "Insufficient data: NDVI and NDWI statistics are required",
		}
	}

	metrics := &HealthMetrics{
		AvgNDVI: mean(ndvi.Values),
		AvgNDWI: mean(ndwi.Values),
	}

	raw := int(math.Round(metrics.AvgNDVI*50 + metrics.AvgNDWI*50))
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}

	status := classify(raw)
	return HealthScore{
		Score:   raw,
		Status:  status,
		Metrics: metrics,
		Message: fmt.Sprintf("Farm health: %s (%d/100)", status, raw),
	}
}

func classify(score int) HealthStatus {
	switch {
	case score >= 70:
		return HealthExcellent
	case score >= 50:
		return HealthGood
	case score >= 30:
		return HealthFair
	default:
		return HealthPoor
	}
}

func findSeries(data []IndexSeries, index string) *IndexSeries {
	for i := range data {
		if data[i].Index == index {
			return &data[i]
		}
	}
	return nil
}

// mean returns the arithmetic mean of values, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
