package journey

import "contour/internal/domain"

type ViewOptions struct {
	Filter FilterOptions
	// Heatmap turns on KPI scoring for KpiKey.
	Heatmap bool
	KpiKey  string
}

// Heat is the visual score of one moment for the selected KPI.
type Heat struct {
	Score    float64  `json:"score"`
	OK       bool     `json:"ok"`
	Tier     HeatTier `json:"tier"`
	BarWidth float64  `json:"bar_width"`
}

type ViewMoment struct {
	Moment   domain.Moment `json:"moment"`
	Column   int           `json:"column"`
	Heat     *Heat         `json:"heat,omitempty"`
	Comments int           `json:"comments"`
}

type ViewGroup struct {
	Stage   domain.Stage `json:"stage"`
	Moments []ViewMoment `json:"moments"`
}

// View is the derived, render-ready form of a dataset.
type View struct {
	Stages  []domain.Stage `json:"stages"`
	Lanes   []domain.Lane  `json:"lanes"`
	Groups  []ViewGroup    `json:"groups"`
	KpiKeys []string       `json:"kpi_keys"`
	Total   int            `json:"total"`
	Visible int            `json:"visible"`
}

// BuildView resolves stages, filters and sorts moments, groups them per stage
// and attaches heat scores and comment counts.
func BuildView(ds domain.Dataset, opts ViewOptions) View {
	stages := ResolveStages(&ds)
	visible := SortMoments(FilterMoments(ds.Moments, opts.Filter), stages)
	comments := CommentsMap(ds)
	scoring := opts.Heatmap && opts.KpiKey != ""

	groups := GroupByStage(visible, stages)
	out := View{
		Stages:  stages,
		Lanes:   domain.Lanes,
		Groups:  make([]ViewGroup, len(groups)),
		KpiKeys: CollectKpiKeys(ds.Moments),
		Total:   len(ds.Moments),
		Visible: len(visible),
	}
	for i, g := range groups {
		vg := ViewGroup{Stage: g.Stage, Moments: make([]ViewMoment, len(g.Moments))}
		for j, m := range g.Moments {
			vm := ViewMoment{Moment: m, Column: m.ClampedColumn(), Comments: len(comments[m.ID])}
			if scoring {
				score, ok := NormalizedKpi(m, opts.KpiKey, ds.KpiConfig)
				raw, rawOK := KpiValue(m, opts.KpiKey)
				vm.Heat = &Heat{Score: score, OK: ok, Tier: Tier(score, ok), BarWidth: BarWidth(raw, rawOK)}
			}
			vg.Moments[j] = vm
		}
		out.Groups[i] = vg
	}
	return out
}
