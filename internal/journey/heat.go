package journey

import "math"

// HeatTier is the heatmap bucket of a normalised KPI score.
type HeatTier string

const (
	HeatNone    HeatTier = "none"
	HeatLow     HeatTier = "low"
	HeatMidLow  HeatTier = "mid-low"
	HeatMidHigh HeatTier = "mid-high"
	HeatHigh    HeatTier = "high"
)

// Tier buckets a score for ring and badge tinting.
func Tier(v float64, ok bool) HeatTier {
	switch {
	case !ok || math.IsNaN(v):
		return HeatNone
	case v > 0.75:
		return HeatHigh
	case v > 0.5:
		return HeatMidHigh
	case v > 0.25:
		return HeatMidLow
	default:
		return HeatLow
	}
}

// BarWidth turns a raw 0..1 metric into a bar fill percentage in [0,100].
func BarWidth(v float64, ok bool) float64 {
	if !ok || math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v*100))
}
