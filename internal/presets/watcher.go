package presets

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"image-prompt-creator/internal/debounce"
)

// Watch reloads registry presets whenever one of their files is written,
// created, renamed or removed. Editors often emit several events per save;
// those are coalesced per file. Watch blocks until ctx is done.
func Watch(ctx context.Context, registry *Registry, debounceDelay time.Duration, logger *slog.Logger) error {
	logger = orDiscard(logger)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	paths := registry.Paths()
	dirs := map[string]bool{}
	for _, p := range []string{paths.Tails, paths.Arrange, paths.Characters} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			logger.Warn("preset dir not watched", "event", "preset_watch_failed", "dir", dir, "error", err)
		}
	}

	agg := debounce.New(debounce.Options{
		Delay: debounceDelay,
		OnFlush: func(b debounce.Batch) {
			kind, ok := registry.KindForPath(b.Key)
			if !ok {
				return
			}
			logger.Info("preset file changed", "event", "preset_reload", "kind", kind, "path", b.Key, "events", b.Count)
			registry.Reload(kind)
		},
	})
	defer agg.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)
			if _, ok := registry.KindForPath(path); !ok {
				continue
			}
			agg.Add(debounce.Event{Key: path, Name: ev.Op.String()})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("preset watcher error", "event", "preset_watch_error", "error", err)
		}
	}
}
