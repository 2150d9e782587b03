// Package watch re-imports a seed dataset file whenever it changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc receives the file contents after a debounced change.
type ReloadFunc func(ctx context.Context, data []byte) error

type Watcher struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	log      *zap.Logger
	fs       *fsnotify.Watcher
}

// New watches path. The parent directory is watched as well so editors that
// save by rename are noticed.
func New(path string, debounce time.Duration, reload ReloadFunc, log *zap.Logger) (*Watcher, error) {
	if reload == nil {
		return nil, errors.New("watch: reload func is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, debounce: debounce, reload: reload, log: log, fs: fw}, nil
}

// Run blocks until ctx is done or the watcher fails. It closes the
// underlying fsnotify watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	w.log.Info("seed watcher started", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info("seed watcher stopped", zap.String("path", w.path))
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if fire != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.apply(ctx)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Error("seed watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// A rename-based save may leave the file briefly absent.
		w.log.Warn("seed file unreadable", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.reload(ctx, data); err != nil {
		w.log.Error("seed reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("seed reloaded", zap.String("path", w.path), zap.Int("bytes", len(data)))
}
