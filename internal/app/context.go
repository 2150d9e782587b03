// Package app assembles the engine from configuration: database, map store,
// research client, logger and metrics.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"contour/internal/config"
	"contour/internal/db"
	"contour/internal/engine"
	"contour/internal/logging"
	"contour/internal/metrics"
	"contour/internal/migrate"
	"contour/internal/research"
	"contour/internal/store/supabase"
)

type Options struct {
	Workspace string
	// DBPath overrides the workspace database file.
	DBPath string
	// Config is loaded from the workspace when nil.
	Config *config.Config
	// Log is built from Config.Log when nil.
	Log *zap.Logger
}

type App struct {
	Engine  engine.Engine
	DB      *sql.DB
	Config  *config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector
}

// Open migrates the workspace database and returns a ready engine. The
// supabase driver keeps maps remote; personas, documents and events stay in
// the local database.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log := opts.Log
	if log == nil {
		built, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, err
		}
		log = built
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, m := range applied {
		log.Info("applied migration", zap.Int("version", m.Version), zap.String("name", m.Name))
	}

	collector := metrics.New()
	eng := engine.New(conn, cfg)
	eng.Log = log
	eng.Metrics = collector
	eng.Research = research.New(cfg.Research, log.Named("research"))

	if cfg.Storage.Driver == "supabase" {
		remote, err := supabase.New(cfg.Storage.Supabase.URL, cfg.Storage.Supabase.ServiceKey)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("supabase store: %w", err)
		}
		eng.Maps = remote
		log.Info("using supabase map store", zap.String("url", cfg.Storage.Supabase.URL))
	}

	return &App{Engine: eng, DB: conn, Config: cfg, Log: log, Metrics: collector}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
