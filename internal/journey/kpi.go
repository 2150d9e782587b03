package journey

import (
	"math"
	"sort"

	"contour/internal/domain"
)

// Domain is the observed numeric range of one KPI across moments.
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CollectKpiKeys returns the union of KPI keys over all moments, sorted.
func CollectKpiKeys(moments []domain.Moment) []string {
	seen := map[string]struct{}{}
	for _, m := range moments {
		for k := range m.KPIs {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InferDomains returns the min and max numeric value seen per KPI key. Keys
// without a single numeric sample are left out.
func InferDomains(moments []domain.Moment) map[string]Domain {
	out := map[string]Domain{}
	for _, m := range moments {
		for k, raw := range m.KPIs {
			v, ok := numeric(raw)
			if !ok {
				continue
			}
			d, seen := out[k]
			if !seen {
				out[k] = Domain{Min: v, Max: v}
				continue
			}
			d.Min = math.Min(d.Min, v)
			d.Max = math.Max(d.Max, v)
			out[k] = d
		}
	}
	return out
}

// Normalize maps a raw KPI value onto a 0..1 goodness score. ok is false when
// the value is not finite. A nil cfg treats the value as already being a score.
func Normalize(value float64, cfg *domain.KpiConfig) (float64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if cfg == nil {
		return Clamp01(value), true
	}
	lo, hi := 0.0, 1.0
	if cfg.Min != nil {
		lo = *cfg.Min
	}
	if cfg.Max != nil {
		hi = *cfg.Max
	}
	if hi == lo {
		return 0.5, true
	}
	z := (value - lo) / (hi - lo)
	if cfg.HigherIsBetter != nil && !*cfg.HigherIsBetter {
		z = 1 - z
	}
	score := Clamp01(z)
	if math.IsNaN(score) {
		// infinite bounds
		return 0, false
	}
	return score, true
}

// Clamp01 clamps x into [0,1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// KpiValue returns the moment's raw value for key when it is numeric.
func KpiValue(m domain.Moment, key string) (float64, bool) {
	if key == "" {
		return 0, false
	}
	return numeric(m.KPIs[key])
}

// NormalizedKpi scores the moment's value for key using its configuration in
// cfgs, if there is one.
func NormalizedKpi(m domain.Moment, key string, cfgs map[string]domain.KpiConfig) (float64, bool) {
	v, ok := KpiValue(m, key)
	if !ok {
		return 0, false
	}
	if cfg, found := cfgs[key]; found {
		return Normalize(v, &cfg)
	}
	return Normalize(v, nil)
}

// InferConfig fills min and max of every observed KPI from the moments,
// keeping the direction already configured. Keys that only exist in existing
// are carried over untouched.
func InferConfig(moments []domain.Moment, existing map[string]domain.KpiConfig) map[string]domain.KpiConfig {
	out := make(map[string]domain.KpiConfig, len(existing))
	for k, cfg := range existing {
		out[k] = cfg
	}
	for k, d := range InferDomains(moments) {
		lo, hi := d.Min, d.Max
		cfg := out[k]
		cfg.Min, cfg.Max = &lo, &hi
		if cfg.HigherIsBetter == nil {
			higher := true
			cfg.HigherIsBetter = &higher
		}
		out[k] = cfg
	}
	return out
}

func numeric(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case int32:
		v = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
