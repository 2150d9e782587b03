package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"contour/internal/domain"
	"contour/internal/events"
	"contour/internal/journey"
	"contour/internal/store"
)

// LoadMap returns the stored map, or an empty shell under the slug when none
// has been saved yet.
func (e Engine) LoadMap(ctx context.Context, slug string) (domain.MapRecord, error) {
	slug = e.slug(slug)
	rec, err := e.Maps.GetMap(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MapRecord{Slug: slug, Data: emptyDataset()}, nil
	}
	return rec, err
}

// SaveMap replaces the whole document and snapshots it as a new version.
func (e Engine) SaveMap(ctx context.Context, slug string, ds domain.Dataset, actorID string) (domain.MapRecord, error) {
	ds = domain.Normalize(ds)
	return e.updateMap(ctx, update{
		slug: slug, actor: actorID, snapshot: true, kind: "map",
		apply: func(domain.Dataset) (domain.Dataset, events.Entry, error) {
			return ds, events.Entry{Type: events.MapSaved, Payload: events.Payload{"moments": len(ds.Moments)}}, nil
		},
	})
}

// ImportMap parses a JSON dataset and saves it as a new version.
func (e Engine) ImportMap(ctx context.Context, slug string, data []byte, actorID string) (domain.MapRecord, error) {
	ds, err := domain.ParseDataset(data)
	if err != nil {
		return domain.MapRecord{}, invalid("dataset", "%v", err)
	}
	return e.updateMap(ctx, update{
		slug: slug, actor: actorID, snapshot: true, kind: "import",
		apply: func(domain.Dataset) (domain.Dataset, events.Entry, error) {
			return ds, events.Entry{Type: events.MapImported, Payload: events.Payload{"moments": len(ds.Moments), "bytes": len(data)}}, nil
		},
	})
}

// ImportSeed imports the configured seed file contents.
func (e Engine) ImportSeed(ctx context.Context, data []byte) error {
	slug := ""
	if e.Config != nil {
		slug = e.Config.Seed.Slug
	}
	_, err := e.ImportMap(ctx, slug, data, "seed")
	e.Metrics.ObserveSeed(err)
	return err
}

// ExportMap renders the stored document as indented JSON.
func (e Engine) ExportMap(ctx context.Context, slug string) ([]byte, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(rec.Data, "", "  ")
}

func (e Engine) ListMaps(ctx context.Context) ([]domain.MapSummary, error) {
	return e.Maps.ListMaps(ctx)
}

func (e Engine) ListVersions(ctx context.Context, slug string) ([]domain.MapVersion, error) {
	return e.Maps.ListVersions(ctx, e.slug(slug))
}

func (e Engine) GetVersion(ctx context.Context, slug string, version int) (domain.MapVersion, error) {
	if version < 1 {
		return domain.MapVersion{}, invalid("version", "must be positive")
	}
	return e.Maps.GetVersion(ctx, e.slug(slug), version)
}

// RestoreVersion makes an old snapshot current again, recording it as a new
// version so history stays append-only.
func (e Engine) RestoreVersion(ctx context.Context, slug string, version int, actorID string) (domain.MapRecord, error) {
	v, err := e.GetVersion(ctx, slug, version)
	if err != nil {
		return domain.MapRecord{}, err
	}
	ds := emptyDataset()
	if v.Data != nil {
		ds = *v.Data
	}
	return e.updateMap(ctx, update{
		slug: slug, actor: actorID, snapshot: true, kind: "restore",
		apply: func(domain.Dataset) (domain.Dataset, events.Entry, error) {
			return ds, events.Entry{Type: events.MapRestored, Payload: events.Payload{"from_version": version}}, nil
		},
	})
}

// View derives the render-ready journey view of a map.
func (e Engine) View(ctx context.Context, slug string, opts journey.ViewOptions) (journey.View, error) {
	rec, err := e.LoadMap(ctx, slug)
	if err != nil {
		return journey.View{}, err
	}
	start := time.Now()
	v := journey.BuildView(rec.Data, opts)
	e.Metrics.ObserveView(time.Since(start))
	return v, nil
}

// DefaultLayerVisibility turns on the configured default layers.
func (e Engine) DefaultLayerVisibility() map[string]bool {
	layers := domain.LayerKeys
	if e.Config != nil && len(e.Config.Journey.DefaultLayers) > 0 {
		layers = e.Config.Journey.DefaultLayers
	}
	vis := make(map[string]bool, len(domain.LayerKeys))
	for _, k := range domain.LayerKeys {
		vis[k] = false
	}
	for _, k := range layers {
		vis[k] = true
	}
	return vis
}
