package journey

import (
	"strings"

	"contour/internal/domain"
)

// FilterOptions selects the visible subset of moments. The zero value
// passes everything.
type FilterOptions struct {
	Query string
	// LayerVisibility maps layer keys to visibility; nil disables layer filtering.
	LayerVisibility map[string]bool
	// DPLevel is tactical, integrated, or all. Empty means all.
	DPLevel string
}

// FilterMoments returns the moments passing every filter, in input order.
func FilterMoments(moments []domain.Moment, opts FilterOptions) []domain.Moment {
	needle := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]domain.Moment, 0, len(moments))
	for _, m := range moments {
		if !matchesLevel(m, opts.DPLevel) {
			continue
		}
		if opts.LayerVisibility != nil && !LayerVisible(m, opts.LayerVisibility) {
			continue
		}
		if needle != "" && !strings.Contains(SearchText(m), needle) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func matchesLevel(m domain.Moment, level string) bool {
	if level == "" || level == domain.DPLevelAll {
		return true
	}
	return m.Level() == level
}

// LayerVisible reports whether any of the moment's layer tags is visible.
// An untagged moment belongs to every layer in the map.
func LayerVisible(m domain.Moment, visibility map[string]bool) bool {
	if len(m.Layers) == 0 {
		for _, on := range visibility {
			if on {
				return true
			}
		}
		return false
	}
	for _, layer := range m.Layers {
		if visibility[layer] {
			return true
		}
	}
	return false
}

// SearchText is the lower-cased text a query is matched against: the title
// and every content list of the four perspectives.
func SearchText(m domain.Moment) string {
	parts := []string{m.Title}
	lists := []domain.StringList{
		m.Experience.MomentsOfTruth,
		m.Experience.JobsToBeDone,
		m.Experience.Artefacts,
		m.AI.Signals,
		m.AI.Models,
		m.AI.Automations,
		m.AI.Risks,
		m.Behaviour.Barriers,
		m.Behaviour.Nudges,
		m.Behaviour.Frameworks,
		m.Governance.Checks,
		m.Governance.Metrics,
	}
	for _, l := range lists {
		parts = append(parts, l...)
	}
	// Newline separators keep a query from matching across two fields.
	return strings.ToLower(strings.Join(parts, "\n"))
}
