package supabase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("", "key")
	require.Error(t, err)
	_, err = New("https://example.supabase.co", "")
	require.Error(t, err)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, 1, nextVersion(nil))
	assert.Equal(t, 5, nextVersion([]versionRow{{Version: 4}}))
	assert.Equal(t, 8, nextVersion([]versionRow{{Version: 2}, {Version: 7}}))
}

func TestRecordFromRowNormalizesDocument(t *testing.T) {
	rec, err := recordFromRow(mapRow{
		ID:   "id-1",
		Slug: "demo",
		Data: json.RawMessage(`{"moments":[{"id":"m1","stage":"discover","tags":["ai"]}],"owner":"ops"}`),
	})
	require.NoError(t, err)
	require.Len(t, rec.Data.Moments, 1)
	assert.Equal(t, "discover", rec.Data.Moments[0].StageKey)
	assert.Equal(t, []string{"ai"}, rec.Data.Moments[0].Layers)
	assert.JSONEq(t, `"ops"`, string(rec.Data.Extra["owner"]))

	empty, err := recordFromRow(mapRow{Slug: "blank"})
	require.NoError(t, err)
	assert.Empty(t, empty.Data.Moments)

	_, err = recordFromRow(mapRow{Slug: "bad", Data: json.RawMessage(`{"moments":`)})
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	rows := []mapRow{
		{ID: "a", Slug: "alpha", Data: json.RawMessage(`{"moments":[{},{}]}`), UpdatedAt: "2025-05-02T00:00:00Z"},
		{ID: "b", Slug: "beta", Data: json.RawMessage(`{}`)},
	}
	versions := []versionRow{{MapID: "a"}, {MapID: "a"}, {MapID: "c"}}
	got := summarize(rows, versions)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Moments)
	assert.Equal(t, 2, got[0].Versions)
	assert.Equal(t, 0, got[1].Moments)
	assert.Equal(t, 0, got[1].Versions)
}
