// Package supabase stores map documents in the maps and map_versions tables
// of a Supabase project through its PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"contour/internal/domain"
	"contour/internal/repo"
	"contour/internal/store"
)

const (
	mapsTable     = "maps"
	versionsTable = "map_versions"
)

type Store struct {
	client *supabase.Client
	Now    func() time.Time
}

var _ store.MapStore = (*Store)(nil)

// New connects with a service-role key; row level security is bypassed, so
// the key must stay server side.
func New(url, serviceKey string) (*Store, error) {
	if url == "" || serviceKey == "" {
		return nil, errors.New("supabase url and service key are required")
	}
	client, err := supabase.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Store{client: client, Now: time.Now}, nil
}

type mapRow struct {
	ID        string          `json:"id,omitempty"`
	Slug      string          `json:"slug"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

type versionRow struct {
	MapID     string          `json:"map_id"`
	Slug      string          `json:"slug"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

func (s *Store) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

func (s *Store) findMap(ctx context.Context, slug string, columns string) (*mapRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []mapRow
	if _, err := s.client.From(mapsTable).Select(columns, "", false).Eq("slug", slug).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("select map %s: %w", slug, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) GetMap(ctx context.Context, slug string) (domain.MapRecord, error) {
	slug = repo.NormalizeSlug(slug)
	row, err := s.findMap(ctx, slug, "*")
	if err != nil {
		return domain.MapRecord{}, err
	}
	if row == nil {
		return domain.MapRecord{}, store.ErrNotFound
	}
	return recordFromRow(*row)
}

func (s *Store) SaveMap(ctx context.Context, slug string, ds domain.Dataset, snapshot bool) (domain.MapRecord, error) {
	slug = repo.NormalizeSlug(slug)
	if slug == "" {
		return domain.MapRecord{}, errors.New("slug is required")
	}
	if err := ctx.Err(); err != nil {
		return domain.MapRecord{}, err
	}
	data, err := json.Marshal(ds)
	if err != nil {
		return domain.MapRecord{}, fmt.Errorf("encode map: %w", err)
	}
	now := s.now()
	var saved []mapRow
	if _, err := s.client.From(mapsTable).
		Upsert(mapRow{Slug: slug, Data: data, UpdatedAt: now}, "slug", "representation", "").
		ExecuteTo(&saved); err != nil {
		return domain.MapRecord{}, fmt.Errorf("upsert map %s: %w", slug, err)
	}
	if len(saved) == 0 {
		return domain.MapRecord{}, fmt.Errorf("upsert map %s: no row returned", slug)
	}
	rec, err := recordFromRow(saved[0])
	if err != nil {
		return domain.MapRecord{}, err
	}
	if !snapshot {
		return rec, nil
	}

	var latest []versionRow
	if _, err := s.client.From(versionsTable).Select("version", "", false).Eq("map_id", rec.ID).
		Order("version", &postgrest.OrderOpts{Ascending: false}).Limit(1, "").
		ExecuteTo(&latest); err != nil {
		return domain.MapRecord{}, fmt.Errorf("select map versions: %w", err)
	}
	next := nextVersion(latest)
	var inserted []versionRow
	if _, err := s.client.From(versionsTable).
		Insert(versionRow{MapID: rec.ID, Slug: slug, Version: next, Data: data, CreatedAt: now}, false, "", "representation", "").
		ExecuteTo(&inserted); err != nil {
		return domain.MapRecord{}, fmt.Errorf("insert map version: %w", err)
	}
	rec.Version = next
	return rec, nil
}

func (s *Store) ListMaps(ctx context.Context) ([]domain.MapSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []mapRow
	if _, err := s.client.From(mapsTable).Select("id,slug,data,updated_at", "", false).
		Order("updated_at", &postgrest.OrderOpts{Ascending: false}).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("select maps: %w", err)
	}
	var versions []versionRow
	if _, err := s.client.From(versionsTable).Select("map_id", "", false).ExecuteTo(&versions); err != nil {
		return nil, fmt.Errorf("select map versions: %w", err)
	}
	return summarize(rows, versions), nil
}

func (s *Store) ListVersions(ctx context.Context, slug string) ([]domain.MapVersion, error) {
	slug = repo.NormalizeSlug(slug)
	row, err := s.findMap(ctx, slug, "id")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return []domain.MapVersion{}, nil
	}
	var rows []versionRow
	if _, err := s.client.From(versionsTable).Select("map_id,slug,version,created_at", "", false).Eq("map_id", row.ID).
		Order("version", &postgrest.OrderOpts{Ascending: false}).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("select map versions: %w", err)
	}
	out := make([]domain.MapVersion, 0, len(rows))
	for _, v := range rows {
		out = append(out, domain.MapVersion{MapID: v.MapID, Slug: v.Slug, Version: v.Version, CreatedAt: v.CreatedAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *Store) GetVersion(ctx context.Context, slug string, version int) (domain.MapVersion, error) {
	slug = repo.NormalizeSlug(slug)
	row, err := s.findMap(ctx, slug, "id")
	if err != nil {
		return domain.MapVersion{}, err
	}
	if row == nil {
		return domain.MapVersion{}, store.ErrNotFound
	}
	var rows []versionRow
	if _, err := s.client.From(versionsTable).Select("*", "", false).Eq("map_id", row.ID).
		Eq("version", strconv.Itoa(version)).ExecuteTo(&rows); err != nil {
		return domain.MapVersion{}, fmt.Errorf("select map version: %w", err)
	}
	if len(rows) == 0 {
		return domain.MapVersion{}, store.ErrNotFound
	}
	return versionFromRow(rows[0])
}

func recordFromRow(row mapRow) (domain.MapRecord, error) {
	ds, err := domain.ParseDataset(row.Data)
	if err != nil {
		return domain.MapRecord{}, fmt.Errorf("decode map %s: %w", row.Slug, err)
	}
	return domain.MapRecord{ID: row.ID, Slug: row.Slug, Data: ds, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}, nil
}

func versionFromRow(row versionRow) (domain.MapVersion, error) {
	ds, err := domain.ParseDataset(row.Data)
	if err != nil {
		return domain.MapVersion{}, fmt.Errorf("decode map %s version %d: %w", row.Slug, row.Version, err)
	}
	return domain.MapVersion{MapID: row.MapID, Slug: row.Slug, Version: row.Version, Data: &ds, CreatedAt: row.CreatedAt}, nil
}

func nextVersion(latest []versionRow) int {
	top := 0
	for _, v := range latest {
		if v.Version > top {
			top = v.Version
		}
	}
	return top + 1
}

// summarize counts moments from each stored document and versions per map.
func summarize(rows []mapRow, versions []versionRow) []domain.MapSummary {
	perMap := map[string]int{}
	for _, v := range versions {
		perMap[v.MapID]++
	}
	out := make([]domain.MapSummary, 0, len(rows))
	for _, row := range rows {
		var doc struct {
			Moments []json.RawMessage `json:"moments"`
		}
		_ = json.Unmarshal(row.Data, &doc)
		out = append(out, domain.MapSummary{
			ID:        row.ID,
			Slug:      row.Slug,
			Moments:   len(doc.Moments),
			Versions:  perMap[row.ID],
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out
}
