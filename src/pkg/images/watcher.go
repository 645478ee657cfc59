package images

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch prunes records as soon as their blob is removed from dir behind the
// service's back. It runs until ctx is done. Read paths heal the index on
// their own; this only makes it happen earlier.
func Watch(ctx context.Context, svc *Service, dir string) error {
	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return watcherErr
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("Watch: failed to close watcher", "error", err)
		}
	}()

	if addErr := watcher.Add(dir); addErr != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, addErr)
	}

	slog.Debug("Watch: starting to watch directory", "directory", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			rel, relErr := filepath.Rel(dir, event.Name)
			if relErr != nil {
				continue
			}
			pruned, pruneErr := svc.PruneMissing(ctx, rel)
			if pruneErr != nil {
				slog.Warn("Watch: failed to prune", "path", rel, "error", pruneErr)
				continue
			}
			if pruned > 0 {
				slog.Debug("Watch: pruned records of removed file", "path", rel, "count", pruned)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Warn("Watch: watcher error", "error", watchErr)
		}
	}
}
