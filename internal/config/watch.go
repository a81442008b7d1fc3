package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the file at path changes and
// hands each successfully loaded Config to apply. It blocks until ctx is
// cancelled.
//
// A failed reload (unparseable YAML, an invalid engine section) keeps the
// running configuration: the error is logged and apply is not called. The
// caller must swap the engine configuration between batches only — a batch
// always finishes with the config it started with.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return err
	}
	slog.Info("watching config file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Editors that save atomically replace the file, which arrives
			// as a create; plain saves arrive as writes.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			next, err := Load(path)
			if err != nil {
				slog.Error("config reload rejected, keeping active config",
					"path", path, "err", err)
				continue
			}
			slog.Info("config reloaded", "path", path)
			apply(next)

			// An atomic save swapped the inode out from under the watch.
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watch error", "err", err)
		}
	}
}
