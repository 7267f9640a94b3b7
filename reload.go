package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"i4.energy/across/satbridge/bridge"
)

// watchConfig re-reads the configuration whenever path changes and hands
// the new settings to the scheduling loop through out. The directory is
// watched, not the file, so that editors replacing the file are noticed.
func watchConfig(ctx context.Context, logger *slog.Logger, path string, load func() (*Config, error), out chan<- bridge.Settings) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return

			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != target || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				config, err := load()
				if err != nil {
					logger.Warn("Ignoring configuration change", "file", path, "error", err)
					continue
				}
				logger.Info("Configuration changed", "file", path)
				select {
				case out <- config.Settings():
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Configuration watcher failed", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
