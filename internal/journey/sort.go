package journey

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"contour/internal/domain"
)

// CompareMoments orders two moments by stage order, then stored column, then
// title.
// A moment whose stage does not resolve sorts as order 0.
func CompareMoments(a, b domain.Moment, stages []domain.Stage) int {
	return newSorter(stages).compare(a, b)
}

// SortMoments returns a stably sorted copy of moments.
func SortMoments(moments []domain.Moment, stages []domain.Stage) []domain.Moment {
	out := slices.Clone(moments)
	if out == nil {
		out = []domain.Moment{}
	}
	s := newSorter(stages)
	slices.SortStableFunc(out, s.compare)
	return out
}

// sorter holds a collator, which must not be shared between goroutines.
type sorter struct {
	stages []domain.Stage
	coll   *collate.Collator
}

func newSorter(stages []domain.Stage) sorter {
	return sorter{stages: stages, coll: collate.New(language.Und)}
}

func (s sorter) stageOrder(m domain.Moment) int {
	st, ok := StageOf(m, s.stages)
	if !ok {
		return 0
	}
	return st.Order
}

func (s sorter) compare(a, b domain.Moment) int {
	if c := cmp.Compare(s.stageOrder(a), s.stageOrder(b)); c != 0 {
		return c
	}
	if c := cmp.Compare(sortColumn(a), sortColumn(b)); c != 0 {
		return c
	}
	if c := s.coll.CompareString(a.Title, b.Title); c != 0 {
		return c
	}
	return strings.Compare(a.Title, b.Title)
}

// sortColumn is the stored column with unset treated as 1. Clamping to the
// grid happens when the view is built.
func sortColumn(m domain.Moment) int {
	if m.Column < 1 {
		return 1
	}
	return m.Column
}
