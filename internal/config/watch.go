package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file at path is written, created or
// replaced, and hands the result to onChange. Invalid files are logged and
// skipped. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that
// save through a rename and files created after startup are both picked up.
func Watch(ctx context.Context, path string, l *slog.Logger, onChange func(Config)) error {
	if l == nil {
		l = slog.Default()
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				l.WarnContext(ctx, "ignoring invalid config", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			l.DebugContext(ctx, "config reloaded", slog.String("path", path))
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.DebugContext(ctx, "config watcher error", slog.String("error", err.Error()))
		}
	}
}
