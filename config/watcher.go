package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultPollInterval = 5 * time.Second

// FileWatcher polls a file and reports content changes. Mounted config volumes
// replace the file through a symlink swap that inotify does not see, and the new
// file may carry an older mtime, so the watcher compares content digests.
type FileWatcher struct {
	path     string
	interval time.Duration
	digest   uint64
	seen     bool
	logger   *slog.Logger
}

func NewFileWatcher(path string, interval time.Duration, logger *slog.Logger) *FileWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &FileWatcher{path: path, interval: interval, logger: logger}
}

// Changed reads the file and reports whether its content differs from the last
// call. The first successful read only records the baseline.
func (w *FileWatcher) Changed() (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, err
	}
	sum := xxhash.Sum64(data)
	if !w.seen {
		w.digest, w.seen = sum, true
		return false, nil
	}
	if sum == w.digest {
		return false, nil
	}
	w.digest = sum
	return true, nil
}

// Watch blocks until ctx is done and calls onChange after every content change.
func (w *FileWatcher) Watch(ctx context.Context, onChange func()) {
	if _, err := w.Changed(); err != nil {
		w.logger.Warn("config file unreadable, waiting for it", "path", w.path, "error", err)
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		changed, err := w.Changed()
		switch {
		case errors.Is(err, os.ErrNotExist):
			// mid-swap
		case err != nil:
			w.logger.Warn("config file unreadable", "path", w.path, "error", err)
		case changed:
			w.logger.Info("config file changed", "path", w.path)
			onChange()
		}
	}
}

// Reloader keeps a Container in sync with the file behind its Loader.
type Reloader[T any] struct {
	loader    *Loader[T]
	container *Container[T]
	logger    *slog.Logger
}

func NewReloader[T any](loader *Loader[T], container *Container[T], logger *slog.Logger) *Reloader[T] {
	return &Reloader[T]{loader: loader, container: container, logger: logger}
}

// Reload loads and installs a new snapshot. On any error the current snapshot stays live.
func (r *Reloader[T]) Reload() error {
	cfg, err := r.loader.Load()
	if err == nil {
		err = r.container.Update(*cfg)
	}
	if err != nil {
		r.logger.Error("config reload rejected", "path", r.loader.Path(), "error", err)
		return err
	}
	r.logger.Info("config reloaded", "path", r.loader.Path(), "version", r.container.Version())
	return nil
}

// Run watches the file until ctx is done. Without a file it returns at once.
func (r *Reloader[T]) Run(ctx context.Context, interval time.Duration) {
	if r.loader.Path() == "" {
		return
	}
	NewFileWatcher(r.loader.Path(), interval, r.logger).Watch(ctx, func() { _ = r.Reload() })
}
