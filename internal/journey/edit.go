package journey

import (
	"slices"
	"strconv"

	"contour/internal/domain"
)

// FindMoment returns the moment with the given id.
func FindMoment(ds domain.Dataset, id string) (domain.Moment, bool) {
	for _, m := range ds.Moments {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Moment{}, false
}

// UpsertMoment replaces the moment with m's id, or appends m.
func UpsertMoment(ds domain.Dataset, m domain.Moment) domain.Dataset {
	m = domain.NormalizeMoment(m)
	next := ds
	next.Moments = slices.Clone(ds.Moments)
	for i := range next.Moments {
		if next.Moments[i].ID == m.ID {
			next.Moments[i] = m
			return next
		}
	}
	next.Moments = append(next.Moments, m)
	return next
}

// DeleteMoment removes the moment and its comments.
func DeleteMoment(ds domain.Dataset, id string) domain.Dataset {
	next := ds
	next.Moments = make([]domain.Moment, 0, len(ds.Moments))
	for _, m := range ds.Moments {
		if m.ID != id {
			next.Moments = append(next.Moments, m)
		}
	}
	if _, ok := ds.Comments[id]; ok {
		next.Comments = cloneIndex(ds.Comments)
		delete(next.Comments, id)
	}
	return next
}

// MoveMoment places a moment on another grid column, clamped into [1,12].
func MoveMoment(ds domain.Dataset, id string, column int) domain.Dataset {
	m, ok := FindMoment(ds, id)
	if !ok {
		return ds
	}
	m.Column = domain.Moment{Column: column}.ClampedColumn()
	return UpsertMoment(ds, m)
}

// StageDeletion names a removed stage and the stage its moments move to.
type StageDeletion struct {
	Key        string `json:"key"`
	ReassignTo string `json:"reassignTo"`
}

// SaveStages replaces the stage list, renumbering it 1..n by position, and
// moves the moments of deleted stages to their replacement.
func SaveStages(ds domain.Dataset, stages []domain.Stage, deleted []StageDeletion) domain.Dataset {
	next := ds
	next.Stages = make([]domain.Stage, len(stages))
	for i, s := range stages {
		s.Order = i + 1
		next.Stages[i] = s
	}
	if len(deleted) == 0 {
		return next
	}
	next.Moments = slices.Clone(ds.Moments)
	for _, d := range deleted {
		for i, m := range next.Moments {
			if m.StageKey != d.Key && m.Stage != d.Key {
				continue
			}
			m.StageKey = d.ReassignTo
			if m.Stage == d.Key {
				m.Stage = ""
			}
			next.Moments[i] = m
		}
	}
	return next
}

// SetKpiConfig replaces the KPI configuration.
func SetKpiConfig(ds domain.Dataset, cfg map[string]domain.KpiConfig) domain.Dataset {
	next := ds
	next.KpiConfig = cfg
	return next
}

// SuggestStageKey returns base, or base followed by the first counter that
// makes it unused.
func SuggestStageKey(base string, taken []string) string {
	key := base
	for i := 1; slices.Contains(taken, key); i++ {
		key = base + strconv.Itoa(i)
	}
	return key
}
