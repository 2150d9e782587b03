// Package journey derives the rendered view of a journey map from a dataset:
// stage resolution, filtering, ordering, KPI scoring and the comment index.
// Every function is pure; inputs are never modified.
package journey

import (
	"sort"

	"contour/internal/domain"
)

const stageLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ResolveStages returns the dataset's stages ordered for display. Explicit
// stages are sorted by order (missing order means input index + 1); without
// them, stages are derived from the moments in first-seen order. Every stage
// gets a display letter by position unless it already carries one.
func ResolveStages(ds *domain.Dataset) []domain.Stage {
	if ds == nil {
		return []domain.Stage{}
	}
	var out []domain.Stage
	if len(ds.Stages) > 0 {
		out = make([]domain.Stage, len(ds.Stages))
		for i, s := range ds.Stages {
			if s.Order == 0 {
				s.Order = i + 1
			}
			out[i] = s
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	} else {
		out = deriveStages(ds.Moments)
	}
	for i := range out {
		if out[i].Letter == "" {
			out[i].Letter = string(stageLetters[i%len(stageLetters)])
		}
	}
	return out
}

func deriveStages(moments []domain.Moment) []domain.Stage {
	out := []domain.Stage{}
	seen := map[string]struct{}{}
	for _, m := range moments {
		key := momentStageKey(m)
		if key == "" {
			key = domain.UncategorizedStage
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		label := m.Stage
		if label == "" {
			label = key
		}
		out = append(out, domain.Stage{Key: key, Label: label, Order: len(out) + 1})
	}
	return out
}

func momentStageKey(m domain.Moment) string {
	if m.StageKey != "" {
		return m.StageKey
	}
	return m.Stage
}

// StageOf finds the stage a moment belongs to, by key first and then by
// label or title. A moment with no stage reference looks for the
// Uncategorized key. ok is false when the reference does not resolve.
func StageOf(m domain.Moment, stages []domain.Stage) (domain.Stage, bool) {
	refs := []string{m.StageKey, m.Stage}
	if m.StageKey == "" && m.Stage == "" {
		refs = []string{domain.UncategorizedStage}
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		for _, s := range stages {
			if s.Key == ref {
				return s, true
			}
		}
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		for _, s := range stages {
			if s.Label == ref || s.Title == ref {
				return s, true
			}
		}
	}
	return domain.Stage{}, false
}

// StageGroup is one rendered stage column.
type StageGroup struct {
	Stage   domain.Stage    `json:"stage"`
	Moments []domain.Moment `json:"moments"`
}

// GroupByStage buckets moments into one group per stage, keeping the order of
// both. Moments whose stage does not resolve land in the Uncategorized
// group, which is only created after the known stages when none of them
// already has that key.
func GroupByStage(moments []domain.Moment, stages []domain.Stage) []StageGroup {
	groups := make([]StageGroup, len(stages))
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		groups[i] = StageGroup{Stage: s, Moments: []domain.Moment{}}
		index[s.Key] = i
	}
	uncategorized := -1
	if i, ok := index[domain.UncategorizedStage]; ok {
		uncategorized = i
	}
	for _, m := range moments {
		if s, ok := StageOf(m, stages); ok {
			i := index[s.Key]
			groups[i].Moments = append(groups[i].Moments, m)
			continue
		}
		if uncategorized < 0 {
			uncategorized = len(groups)
			groups = append(groups, StageGroup{
				Stage: domain.Stage{
					Key:    domain.UncategorizedStage,
					Label:  domain.UncategorizedStage,
					Letter: string(stageLetters[uncategorized%len(stageLetters)]),
				},
				Moments: []domain.Moment{},
			})
		}
		groups[uncategorized].Moments = append(groups[uncategorized].Moments, m)
	}
	return groups
}
