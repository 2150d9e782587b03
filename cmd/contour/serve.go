package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"contour/internal/app"
	"contour/internal/notify"
	"contour/internal/server"
	"contour/internal/watch"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API under server.base_path, imports the seed file when one is configured and forwards events to the configured hooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			log := a.Log

			handler, err := server.New(server.Config{
				Engine:      a.Engine,
				BasePath:    cfg.Server.BasePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				Log:         log.Named("http"),
				Metrics:     a.Metrics,
				Version:     version,
			})
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			runCtx, cancel := context.WithCancel(ctx)
			defer func() {
				cancel()
				wg.Wait()
			}()
			if err := startSeed(runCtx, a, &wg); err != nil {
				return err
			}
			if d := notify.New(a.Engine.Repo, cfg.Hooks, 0, log.Named("notify")); d != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = d.Run(runCtx)
				}()
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-runCtx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer stop()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn("shutdown", zap.Error(err))
				}
			}()
			log.Info("serving contour api",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.String("storage", cfg.Storage.Driver))
			fmt.Printf("Serving Contour API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// startSeed imports the seed file once and, with seed.watch, re-imports it
// on every change.
func startSeed(ctx context.Context, a *app.App, wg *sync.WaitGroup) error {
	file := a.Config.Seed.File
	if file == "" {
		return nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(viper.GetString("workspace"), file)
	}
	log := a.Log.Named("seed").With(zap.String("file", file))
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := a.Engine.ImportSeed(ctx, data); err != nil {
			log.Error("import seed", zap.Error(err))
		} else {
			log.Info("imported seed")
		}
	case os.IsNotExist(err) && a.Config.Seed.Watch:
		log.Info("seed file missing, waiting for it")
	default:
		return fmt.Errorf("read seed: %w", err)
	}
	if !a.Config.Seed.Watch {
		return nil
	}
	w, err := watch.New(file, a.Config.Seed.Debounce, a.Engine.ImportSeed, log)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			log.Error("seed watcher stopped", zap.Error(err))
		}
	}()
	return nil
}
