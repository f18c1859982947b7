package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/sous/internal/observability"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the file at path whenever it changes and applies the new
// logging.level to level. Only the log level is hot-reloaded; other changes
// need a restart. Invalid files are logged and ignored.
//
// Overrides are applied on every reload, as with Load. Watch returns after
// the watcher is running. It stops when ctx ends.
func Watch(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger, overrides ...func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file with a rename.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	reload := func() {
		cfg, err := Load(absPath, overrides...)
		if err != nil {
			logger.Warn("config reload failed", "path", absPath, "error", err)
			return
		}
		next := observability.LogLevelFromString(cfg.Logging.Level)
		if next != level.Level() {
			logger.Info("log level changed", "from", level.Level().String(), "to", next.String())
			level.Set(next)
		}
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}
