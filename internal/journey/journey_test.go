package journey

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contour/internal/domain"
)

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool      { return &v }

func ids(moments []domain.Moment) []string {
	out := make([]string, len(moments))
	for i, m := range moments {
		out[i] = m.ID
	}
	return out
}

func sampleMoments() []domain.Moment {
	return []domain.Moment{
		domain.NormalizeMoment(domain.Moment{ID: "m1", Title: "Zeta", StageKey: "s2", Column: 3, Layers: []string{"ai"}}),
		domain.NormalizeMoment(domain.Moment{ID: "m2", Title: "alpha", StageKey: "s1", Column: 1, Layers: []string{"service"}}),
		domain.NormalizeMoment(domain.Moment{ID: "m3", Title: "Beta", StageKey: "s1", Column: 1, DPLevel: domain.DPLevelIntegrated}),
		domain.NormalizeMoment(domain.Moment{ID: "m4", Title: "Orphan", StageKey: "gone", Column: 20}),
		domain.NormalizeMoment(domain.Moment{ID: "m5", Title: "Beta", StageKey: "s1", Column: 1}),
	}
}

func sampleStages() []domain.Stage {
	return []domain.Stage{{Key: "s2", Label: "Decide", Order: 2}, {Key: "s1", Label: "Discover", Order: 1}}
}

func TestResolveStagesOrdersByOrderNotPosition(t *testing.T) {
	ds := &domain.Dataset{Stages: []domain.Stage{{Key: "a", Order: 2}, {Key: "b", Order: 1}}}
	got := ResolveStages(ds)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Key)
	assert.Equal(t, "A", got[0].Letter)
	assert.Equal(t, "a", got[1].Key)
	assert.Equal(t, "B", got[1].Letter)
}

func TestResolveStagesKeepsExplicitLetterAndDefaultsOrder(t *testing.T) {
	ds := &domain.Dataset{Stages: []domain.Stage{{Key: "x", Letter: "Q"}, {Key: "y"}}}
	got := ResolveStages(ds)
	assert.Equal(t, "Q", got[0].Letter)
	assert.Equal(t, 1, got[0].Order)
	assert.Equal(t, "B", got[1].Letter)
	assert.Equal(t, 2, got[1].Order)
	assert.Equal(t, "", ds.Stages[1].Letter, "input must not be modified")
}

func TestResolveStagesDerivesFromMoments(t *testing.T) {
	ds := &domain.Dataset{Moments: []domain.Moment{
		{ID: "1", Stage: "Discover"},
		{ID: "2", StageKey: "buy", Stage: "Buy"},
		{ID: "3", Stage: "Discover"},
		{ID: "4"},
	}}
	got := ResolveStages(ds)
	want := []domain.Stage{
		{Key: "Discover", Label: "Discover", Order: 1, Letter: "A"},
		{Key: "buy", Label: "Buy", Order: 2, Letter: "B"},
		{Key: domain.UncategorizedStage, Label: domain.UncategorizedStage, Order: 3, Letter: "C"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveStagesNilAndEmpty(t *testing.T) {
	assert.Empty(t, ResolveStages(nil))
	assert.Empty(t, ResolveStages(&domain.Dataset{}))
}

func TestLettersWrapAfterZ(t *testing.T) {
	stages := make([]domain.Stage, 28)
	for i := range stages {
		stages[i] = domain.Stage{Key: string(rune('a' + i%26)), Order: i + 1}
	}
	got := ResolveStages(&domain.Dataset{Stages: stages})
	assert.Equal(t, "Z", got[25].Letter)
	assert.Equal(t, "A", got[26].Letter)
	assert.Equal(t, "B", got[27].Letter)
}

func TestStageOfFallsBackToLabel(t *testing.T) {
	stages := sampleStages()
	s, ok := StageOf(domain.Moment{Stage: "Decide"}, stages)
	require.True(t, ok)
	assert.Equal(t, "s2", s.Key)

	_, ok = StageOf(domain.Moment{StageKey: "nope"}, stages)
	assert.False(t, ok)
}

func TestGroupByStageAddsUncategorizedLazily(t *testing.T) {
	stages := ResolveStages(&domain.Dataset{Stages: sampleStages()})
	groups := GroupByStage(sampleMoments()[:3], stages)
	require.Len(t, groups, 2)

	groups = GroupByStage(sampleMoments(), stages)
	require.Len(t, groups, 3)
	assert.Equal(t, domain.UncategorizedStage, groups[2].Stage.Key)
	assert.Equal(t, []string{"m4"}, ids(groups[2].Moments))
	assert.Equal(t, []string{"m2", "m3", "m5"}, ids(groups[0].Moments))
}

func TestBuildViewDerivedUncategorizedStage(t *testing.T) {
	ds := domain.Normalize(domain.Dataset{Moments: []domain.Moment{
		{ID: "a", Title: "A", StageKey: "s1"},
		{ID: "b", Title: "B"},
	}})
	stages := ResolveStages(&ds)
	s, ok := StageOf(ds.Moments[1], stages)
	require.True(t, ok)
	assert.Equal(t, domain.UncategorizedStage, s.Key)

	view := BuildView(ds, ViewOptions{})
	require.Len(t, view.Groups, 2)
	assert.Equal(t, "s1", view.Groups[0].Stage.Key)
	require.Len(t, view.Groups[0].Moments, 1)
	assert.Equal(t, "a", view.Groups[0].Moments[0].Moment.ID)
	assert.Equal(t, domain.UncategorizedStage, view.Groups[1].Stage.Key)
	assert.Equal(t, "B", view.Groups[1].Stage.Letter)
	require.Len(t, view.Groups[1].Moments, 1)
	assert.Equal(t, "b", view.Groups[1].Moments[0].Moment.ID)

	assert.Equal(t, []string{"a", "b"}, ids(SortMoments(ds.Moments, stages)))
}

func TestGroupByStageReusesExplicitUncategorized(t *testing.T) {
	stages := ResolveStages(&domain.Dataset{Stages: []domain.Stage{
		{Key: "s1", Label: "Discover", Order: 1},
		{Key: domain.UncategorizedStage, Label: "Other", Order: 2},
	}})
	groups := GroupByStage([]domain.Moment{
		{ID: "a", StageKey: "s1"},
		{ID: "b", StageKey: "gone"},
		{ID: "c"},
	}, stages)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"b", "c"}, ids(groups[1].Moments))
}

func TestSortUsesStoredColumnBeyondGrid(t *testing.T) {
	moments := []domain.Moment{
		{ID: "a", Title: "A", StageKey: "s1", Column: 13},
		{ID: "b", Title: "B", StageKey: "s1", Column: 12},
		{ID: "c", Title: "C", StageKey: "s1"},
	}
	stages := []domain.Stage{{Key: "s1", Order: 1}}
	assert.Equal(t, []string{"c", "b", "a"}, ids(SortMoments(moments, stages)))

	view := BuildView(domain.Dataset{Stages: stages, Moments: moments}, ViewOptions{})
	require.Len(t, view.Groups, 1)
	cols := []int{}
	for _, m := range view.Groups[0].Moments {
		cols = append(cols, m.Column)
	}
	assert.Equal(t, []int{1, 12, 12}, cols)
}

func TestSortScenarioColumnBeforeTitle(t *testing.T) {
	moments := []domain.Moment{
		{ID: "m1", Title: "Zeta", StageKey: "s1", Column: 3},
		{ID: "m2", Title: "Alpha", StageKey: "s1", Column: 1},
	}
	stages := []domain.Stage{{Key: "s1", Order: 1, Label: "Discover"}}
	assert.Equal(t, []string{"m2", "m1"}, ids(SortMoments(moments, stages)))
	assert.Equal(t, "m1", moments[0].ID, "input must not be modified")
}

func TestSortOrdersStageColumnTitle(t *testing.T) {
	got := SortMoments(sampleMoments(), sampleStages())
	// m4 is unresolved (order 0) so it sorts first; equal titles keep input order.
	assert.Equal(t, []string{"m4", "m2", "m3", "m5", "m1"}, ids(got))
}

func TestSortIsIdempotent(t *testing.T) {
	stages := sampleStages()
	once := SortMoments(sampleMoments(), stages)
	twice := SortMoments(once, stages)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("sort not idempotent (-once +twice):\n%s", diff)
	}
}

func TestCompareMoments(t *testing.T) {
	stages := sampleStages()
	a := domain.Moment{Title: "a", StageKey: "s1"}
	b := domain.Moment{Title: "B", StageKey: "s1"}
	assert.Equal(t, -1, CompareMoments(a, b, stages))
	assert.Equal(t, 1, CompareMoments(b, a, stages))
	assert.Equal(t, 0, CompareMoments(a, a, stages))
	assert.Equal(t, 1, CompareMoments(domain.Moment{StageKey: "s2"}, b, stages))
}

func TestFilterIdentityWhenPermissive(t *testing.T) {
	vis := map[string]bool{}
	for _, k := range domain.LayerKeys {
		vis[k] = true
	}
	in := sampleMoments()
	got := FilterMoments(in, FilterOptions{LayerVisibility: vis, DPLevel: domain.DPLevelAll})
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("filter changed the input (-want +got):\n%s", diff)
	}
}

func TestFilterDPLevel(t *testing.T) {
	in := sampleMoments()
	assert.Equal(t, []string{"m3"}, ids(FilterMoments(in, FilterOptions{DPLevel: domain.DPLevelIntegrated})))
	assert.Equal(t, []string{"m1", "m2", "m4", "m5"}, ids(FilterMoments(in, FilterOptions{DPLevel: domain.DPLevelTactical})))
	assert.Len(t, FilterMoments(in, FilterOptions{}), len(in))
}

func TestFilterLayerVisibility(t *testing.T) {
	in := sampleMoments()
	got := FilterMoments(in, FilterOptions{LayerVisibility: map[string]bool{"ai": true, "service": false}})
	assert.Equal(t, []string{"m1", "m3", "m4", "m5"}, ids(got))

	got = FilterMoments(in, FilterOptions{LayerVisibility: map[string]bool{"ai": false, "service": false}})
	assert.Empty(t, got)
}

func TestUntaggedMomentVisibleWheneverAnyLayerIsOn(t *testing.T) {
	m := domain.NormalizeMoment(domain.Moment{ID: "u", Title: "Untagged"})
	for _, key := range domain.LayerKeys {
		vis := map[string]bool{}
		for _, k := range domain.LayerKeys {
			vis[k] = k == key
		}
		assert.True(t, LayerVisible(m, vis), "layer %s", key)
	}
	assert.False(t, LayerVisible(m, map[string]bool{"ai": false}))
}

func TestFilterQueryMatchesMomentsOfTruth(t *testing.T) {
	m := domain.NormalizeMoment(domain.Moment{ID: "q", Title: "Checkout"})
	m.Experience.MomentsOfTruth = domain.StringList{"Latency", "Reliability"}
	other := domain.NormalizeMoment(domain.Moment{ID: "o", Title: "Other"})

	got := FilterMoments([]domain.Moment{other, m}, FilterOptions{Query: "  latency "})
	assert.Equal(t, []string{"q"}, ids(got))
}

func TestFilterQuerySearchesAllLists(t *testing.T) {
	m := domain.NormalizeMoment(domain.Moment{ID: "g", Title: "Pay"})
	m.Governance.Metrics = domain.StringList{"Error budget"}
	m.Behaviour.Nudges = domain.StringList{"Default opt-in"}
	assert.Len(t, FilterMoments([]domain.Moment{m}, FilterOptions{Query: "BUDGET"}), 1)
	assert.Len(t, FilterMoments([]domain.Moment{m}, FilterOptions{Query: "opt-in"}), 1)
	assert.Empty(t, FilterMoments([]domain.Moment{m}, FilterOptions{Query: "pay\nerror"}))
}

func TestNormalizeScenarioLowerIsBetter(t *testing.T) {
	cfg := &domain.KpiConfig{Min: f64(0), Max: f64(1), HigherIsBetter: boolp(false)}
	v, ok := Normalize(0.2, cfg)
	require.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-9)
}

func TestNormalizeMidpointWhenRangeIsEmpty(t *testing.T) {
	cfg := &domain.KpiConfig{Min: f64(5), Max: f64(5), HigherIsBetter: boolp(true)}
	for _, raw := range []float64{-100, 0, 5, 1e9} {
		v, ok := Normalize(raw, cfg)
		require.True(t, ok)
		assert.Equal(t, 0.5, v)
	}
}

func TestNormalizeRange(t *testing.T) {
	cfgs := []*domain.KpiConfig{
		nil,
		{},
		{Min: f64(-10), Max: f64(10)},
		{Min: f64(100), Max: f64(0), HigherIsBetter: boolp(false)},
		{Max: f64(1e-9)},
	}
	values := []float64{-1e12, -3, -0.5, 0, 0.25, 1, 7, 1e12, math.SmallestNonzeroFloat64}
	for _, cfg := range cfgs {
		for _, raw := range values {
			v, ok := Normalize(raw, cfg)
			require.True(t, ok)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		_, ok := Normalize(math.NaN(), cfg)
		assert.False(t, ok)
		_, ok = Normalize(math.Inf(1), cfg)
		assert.False(t, ok)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	v, _ := Normalize(1.7, nil)
	assert.Equal(t, 1.0, v)
	v, _ = Normalize(0.3, &domain.KpiConfig{})
	assert.InDelta(t, 0.3, v, 1e-9)
	v, _ = Normalize(75, &domain.KpiConfig{Min: f64(50), Max: f64(100)})
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestKpiKeysAndDomains(t *testing.T) {
	moments := []domain.Moment{
		{KPIs: map[string]any{"nps": 40.0, "ttfr": 0.4, "label": "n/a"}},
		{KPIs: map[string]any{"nps": 10.0, "csat": "high"}},
		{KPIs: map[string]any{"nps": 70, "ttfr": math.NaN()}},
	}
	assert.Equal(t, []string{"csat", "label", "nps", "ttfr"}, CollectKpiKeys(moments))
	assert.Equal(t, map[string]Domain{
		"nps":  {Min: 10, Max: 70},
		"ttfr": {Min: 0.4, Max: 0.4},
	}, InferDomains(moments))
}

func TestNormalizedKpi(t *testing.T) {
	m := domain.Moment{KPIs: map[string]any{"ttfr": 0.2, "text": "x"}}
	cfgs := map[string]domain.KpiConfig{"ttfr": {HigherIsBetter: boolp(false)}}

	v, ok := NormalizedKpi(m, "ttfr", cfgs)
	require.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-9)

	_, ok = NormalizedKpi(m, "text", cfgs)
	assert.False(t, ok)
	_, ok = NormalizedKpi(m, "", cfgs)
	assert.False(t, ok)
}

func TestInferConfigKeepsDirection(t *testing.T) {
	moments := []domain.Moment{{KPIs: map[string]any{"ttfr": 2.0}}, {KPIs: map[string]any{"ttfr": 8.0, "nps": 30.0}}}
	existing := map[string]domain.KpiConfig{
		"ttfr": {HigherIsBetter: boolp(false)},
		"old":  {Min: f64(1), Max: f64(2)},
	}
	got := InferConfig(moments, existing)
	require.Contains(t, got, "ttfr")
	assert.Equal(t, 2.0, *got["ttfr"].Min)
	assert.Equal(t, 8.0, *got["ttfr"].Max)
	assert.False(t, *got["ttfr"].HigherIsBetter)
	assert.True(t, *got["nps"].HigherIsBetter)
	assert.Equal(t, existing["old"], got["old"])
	assert.Nil(t, existing["ttfr"].Min, "input must not be modified")
}

func TestTier(t *testing.T) {
	cases := []struct {
		v    float64
		ok   bool
		want HeatTier
	}{
		{0, false, HeatNone},
		{math.NaN(), true, HeatNone},
		{0, true, HeatLow},
		{0.25, true, HeatLow},
		{0.26, true, HeatMidLow},
		{0.5, true, HeatMidLow},
		{0.51, true, HeatMidHigh},
		{0.75, true, HeatMidHigh},
		{0.76, true, HeatHigh},
		{1, true, HeatHigh},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Tier(c.v, c.ok), "v=%v ok=%v", c.v, c.ok)
	}
}

func TestBarWidth(t *testing.T) {
	assert.Equal(t, 0.0, BarWidth(0.5, false))
	assert.Equal(t, 0.0, BarWidth(math.NaN(), true))
	assert.Equal(t, 0.0, BarWidth(-2, true))
	assert.Equal(t, 42.0, BarWidth(0.42, true))
	assert.Equal(t, 100.0, BarWidth(3, true))
}

func TestCommentRoundTrip(t *testing.T) {
	base := domain.Dataset{Comments: map[string][]domain.Comment{
		"m1": {{ID: "c0", Text: "first"}},
		"m2": {{ID: "c9", Text: "other"}},
	}}
	c := domain.Comment{ID: NewCommentID("m1", time.UnixMilli(1700000000000)), Author: "ana", Text: "hello"}
	assert.Equal(t, "m1-1700000000000", c.ID)

	added := AddComment(base, "m1", c)
	require.Len(t, added.Comments["m1"], 2)
	assert.Len(t, base.Comments["m1"], 1, "input must not be modified")
	assert.Same(t, &base.Comments["m2"][0], &added.Comments["m2"][0], "other moments are shared")

	removed := DeleteComment(added, "m1", c.ID)
	assert.Equal(t, base.Comments["m1"], removed.Comments["m1"])

	fresh := DeleteComment(AddComment(domain.Dataset{}, "m3", c), "m3", c.ID)
	assert.Equal(t, CommentsMap(domain.Dataset{})["m3"], CommentsMap(fresh)["m3"])
	assert.NotContains(t, fresh.Comments, "m3")
}

func TestDeleteUnknownCommentIsNoop(t *testing.T) {
	ds := domain.Dataset{Comments: map[string][]domain.Comment{"m1": {{ID: "c1"}}}}
	got := DeleteComment(ds, "m1", "missing")
	assert.Equal(t, ds, got)
	assert.NotNil(t, CommentsMap(domain.Dataset{}))
}

func TestSortedComments(t *testing.T) {
	in := []domain.Comment{
		{ID: "late", TS: "2025-03-01T10:00:00Z"},
		{ID: "early", TS: "2025-03-01T09:00:00+00:00"},
		{ID: "tie", TS: "2025-03-01T10:00:00Z"},
		{ID: "offset", TS: "2025-03-01T10:30:00+02:00"},
	}
	got := SortedComments(in)
	assert.Equal(t, []string{"offset", "early", "late", "tie"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
	assert.Equal(t, "late", in[0].ID)
}

func TestUpsertAndDeleteMoment(t *testing.T) {
	ds := domain.Dataset{
		Moments:  []domain.Moment{{ID: "m1", Title: "One"}},
		Comments: map[string][]domain.Comment{"m1": {{ID: "c"}}},
	}
	added := UpsertMoment(ds, domain.Moment{ID: "m2", Title: "Two"})
	require.Len(t, added.Moments, 2)
	assert.NotNil(t, added.Moments[1].AI.Signals, "appended moments are normalised")
	assert.Len(t, ds.Moments, 1)

	edited := UpsertMoment(added, domain.Moment{ID: "m1", Title: "Uno"})
	assert.Equal(t, "Uno", edited.Moments[0].Title)
	assert.Equal(t, "One", added.Moments[0].Title)

	deleted := DeleteMoment(edited, "m1")
	assert.Equal(t, []string{"m2"}, ids(deleted.Moments))
	assert.NotContains(t, deleted.Comments, "m1")
	assert.Contains(t, ds.Comments, "m1")
}

func TestMoveMomentClampsColumn(t *testing.T) {
	ds := domain.Dataset{Moments: []domain.Moment{{ID: "m1", Column: 4}}}
	assert.Equal(t, 12, MoveMoment(ds, "m1", 30).Moments[0].Column)
	assert.Equal(t, 1, MoveMoment(ds, "m1", -2).Moments[0].Column)
	assert.Equal(t, 6, MoveMoment(ds, "m1", 6).Moments[0].Column)
	assert.Equal(t, ds, MoveMoment(ds, "zz", 6))
}

func TestSaveStagesRenumbersAndReassigns(t *testing.T) {
	ds := domain.Dataset{
		Stages: []domain.Stage{{Key: "a", Order: 1}, {Key: "b", Order: 2}, {Key: "c", Order: 3}},
		Moments: []domain.Moment{
			{ID: "1", StageKey: "b"},
			{ID: "2", StageKey: "c"},
			{ID: "3", Stage: "b"},
		},
	}
	next := SaveStages(ds,
		[]domain.Stage{{Key: "c", Label: "Chosen", Order: 9}, {Key: "a", Order: 4}},
		[]StageDeletion{{Key: "b", ReassignTo: "a"}},
	)
	assert.Equal(t, 1, next.Stages[0].Order)
	assert.Equal(t, "c", next.Stages[0].Key)
	assert.Equal(t, 2, next.Stages[1].Order)
	assert.Equal(t, "a", next.Moments[0].StageKey)
	assert.Equal(t, "c", next.Moments[1].StageKey)
	assert.Equal(t, "a", next.Moments[2].StageKey)
	assert.Equal(t, "", next.Moments[2].Stage)
	assert.Equal(t, "b", ds.Moments[0].StageKey, "input must not be modified")
}

func TestSuggestStageKey(t *testing.T) {
	assert.Equal(t, "S4", SuggestStageKey("S4", []string{"S1", "S2"}))
	assert.Equal(t, "S41", SuggestStageKey("S4", []string{"S4"}))
	assert.Equal(t, "S42", SuggestStageKey("S4", []string{"S4", "S41"}))
}

func TestBuildView(t *testing.T) {
	ds := domain.Dataset{
		Moments: sampleMoments(),
		Stages:  sampleStages(),
		Comments: map[string][]domain.Comment{
			"m2": {{ID: "a"}, {ID: "b"}},
		},
		KpiConfig: map[string]domain.KpiConfig{"ttfr": {HigherIsBetter: boolp(false)}},
	}
	ds.Moments[1].KPIs = map[string]any{"ttfr": 0.2}

	v := BuildView(ds, ViewOptions{Heatmap: true, KpiKey: "ttfr", Filter: FilterOptions{DPLevel: domain.DPLevelTactical}})
	assert.Equal(t, 5, v.Total)
	assert.Equal(t, 4, v.Visible)
	assert.Equal(t, []string{"ttfr"}, v.KpiKeys)
	assert.Len(t, v.Lanes, 4)
	require.Len(t, v.Groups, 3)

	discover := v.Groups[0]
	assert.Equal(t, "s1", discover.Stage.Key)
	assert.Equal(t, "A", discover.Stage.Letter)
	require.Len(t, discover.Moments, 2)
	m2 := discover.Moments[0]
	assert.Equal(t, "m2", m2.Moment.ID)
	assert.Equal(t, 2, m2.Comments)
	require.NotNil(t, m2.Heat)
	assert.Equal(t, HeatHigh, m2.Heat.Tier)
	assert.InDelta(t, 20.0, m2.Heat.BarWidth, 1e-9)
	assert.Equal(t, HeatNone, discover.Moments[1].Heat.Tier)

	orphan := v.Groups[2]
	assert.Equal(t, domain.UncategorizedStage, orphan.Stage.Key)
	assert.Equal(t, 12, orphan.Moments[0].Column)

	plain := BuildView(ds, ViewOptions{KpiKey: "ttfr"})
	assert.Nil(t, plain.Groups[0].Moments[0].Heat)
}
