// Package engine applies journey-map and persona operations: it loads the
// current document, runs the pure journey functions and persists the result
// together with an audit event.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"contour/internal/config"
	"contour/internal/domain"
	"contour/internal/events"
	"contour/internal/metrics"
	"contour/internal/repo"
	"contour/internal/research"
	"contour/internal/store"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Maps     store.MapStore
	Events   events.Writer
	Research *research.Client
	Metrics  *metrics.Collector
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time
}

// New wires an engine on the SQLite repo. Callers may replace Maps with
// another store, and set Log, Metrics and Research.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Maps:     r,
		Events:   events.Writer{DB: db},
		Research: research.New(cfg.Research, nil),
		Config:   cfg,
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

// WithClock returns a copy whose repo, event log and engine share now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Repo.Now = now
	e.Events.Now = now
	if _, ok := e.Maps.(repo.Repo); ok {
		e.Maps = e.Repo
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// InvalidError reports a rejected input field.
type InvalidError struct {
	Field  string
	Reason string
}

func (e InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return InvalidError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// slug normalises a map slug, falling back to the configured default.
func (e Engine) slug(s string) string {
	s = repo.NormalizeSlug(s)
	if s != "" {
		return s
	}
	if e.Config != nil && e.Config.Journey.DefaultSlug != "" {
		return repo.NormalizeSlug(e.Config.Journey.DefaultSlug)
	}
	return "default"
}

// errUnchanged lets an update report that nothing needs saving.
var errUnchanged = errors.New("unchanged")

// update describes one map mutation.
type update struct {
	slug     string
	actor    string
	snapshot bool
	kind     string // metrics label
	apply    func(ds domain.Dataset) (domain.Dataset, events.Entry, error)
}

// updateMap loads the map (an empty one when missing), applies u and saves
// the result with its event. With a TxMapStore the read, write and event
// share one transaction.
func (e Engine) updateMap(ctx context.Context, u update) (domain.MapRecord, error) {
	slug := e.slug(u.slug)
	if ts, ok := e.Maps.(store.TxMapStore); ok {
		return e.updateMapTx(ctx, ts, slug, u)
	}
	cur, err := e.Maps.GetMap(ctx, slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.MapRecord{}, err
	}
	next, entry, err := u.apply(currentData(cur, err))
	if errors.Is(err, errUnchanged) {
		return cur, nil
	}
	if err != nil {
		return domain.MapRecord{}, err
	}
	rec, err := e.Maps.SaveMap(ctx, slug, next, u.snapshot)
	if err != nil {
		return domain.MapRecord{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MapRecord{}, err
	}
	defer tx.Rollback()
	if err := e.appendMapEvent(ctx, tx, rec, u, entry); err != nil {
		return domain.MapRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MapRecord{}, err
	}
	e.Metrics.ObserveMapSave(u.kind)
	return rec, nil
}

func (e Engine) updateMapTx(ctx context.Context, ts store.TxMapStore, slug string, u update) (domain.MapRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MapRecord{}, err
	}
	defer tx.Rollback()
	cur, err := ts.GetMapTx(ctx, tx, slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.MapRecord{}, err
	}
	next, entry, err := u.apply(currentData(cur, err))
	if errors.Is(err, errUnchanged) {
		return cur, nil
	}
	if err != nil {
		return domain.MapRecord{}, err
	}
	rec, err := ts.SaveMapTx(ctx, tx, slug, next, u.snapshot)
	if err != nil {
		return domain.MapRecord{}, err
	}
	if err := e.appendMapEvent(ctx, tx, rec, u, entry); err != nil {
		return domain.MapRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MapRecord{}, err
	}
	e.Metrics.ObserveMapSave(u.kind)
	return rec, nil
}

func currentData(rec domain.MapRecord, err error) domain.Dataset {
	if err != nil {
		return emptyDataset()
	}
	return rec.Data
}

func (e Engine) appendMapEvent(ctx context.Context, tx *sql.Tx, rec domain.MapRecord, u update, entry events.Entry) error {
	entry.MapSlug = rec.Slug
	entry.ActorID = u.actor
	if entry.EntityKind == "" {
		entry.EntityKind = "map"
		entry.EntityID = rec.ID
	}
	if rec.Version > 0 {
		if entry.Payload == nil {
			entry.Payload = events.Payload{}
		}
		entry.Payload["version"] = rec.Version
	}
	return e.Events.Append(ctx, tx, entry)
}

func emptyDataset() domain.Dataset {
	return domain.Dataset{Moments: []domain.Moment{}}
}

func actorOrAnonymous(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return "anonymous"
}
