package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchTarget names the directories to watch and the files in them that
// belong to the index. *source.FileSource implements it.
type WatchTarget interface {
	Dirs() ([]string, error)
	Matches(name string) bool
}

// Reloader is the part of *Catalog the watcher and the Kafka handler need.
type Reloader interface {
	Reload(ctx context.Context) (ReloadResult, error)
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher reloads the catalog when search data files change. A burst of
// events produces a single reload once the directory has been quiet for the
// debounce interval.
type Watcher struct {
	reloader Reloader
	target   WatchTarget
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(r Reloader, target WatchTarget, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		reloader: r,
		target:   target,
		debounce: debounce,
		logger:   slog.Default().With("component", "index-watcher"),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	dirs, err := w.target.Dirs()
	if err != nil {
		return fmt.Errorf("resolving watch directories: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Parents are watched too so a search directory that is deleted and
	// recreated by a docs rebuild is picked up again.
	watched := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		watched[dir] = true
	}
	for _, dir := range dirs {
		parent := filepath.Dir(dir)
		if parent == dir || watched[parent] {
			continue
		}
		if err := fw.Add(parent); err != nil {
			w.logger.Warn("cannot watch parent directory", "dir", parent, "error", err)
		}
	}
	w.logger.Info("watching search data", "dirs", dirs, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := 0

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping", "reason", ctx.Err())
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if watched[ev.Name] {
				switch {
				case ev.Has(fsnotify.Create):
					if err := fw.Add(ev.Name); err != nil {
						w.logger.Error("re-watching recreated directory failed", "dir", ev.Name, "error", err)
						continue
					}
					w.logger.Info("search directory recreated", "dir", ev.Name)
					pending++
					timer.Reset(w.debounce)
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					w.logger.Warn("search directory removed, waiting for it to return", "dir", ev.Name)
				}
				continue
			}
			if ev.Op&relevantOps == 0 || !watched[filepath.Dir(ev.Name)] || !w.target.Matches(ev.Name) {
				continue
			}
			w.logger.Debug("search data changed", "file", ev.Name, "op", ev.Op.String())
			pending++
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)

		case <-timer.C:
			res, err := w.reloader.Reload(ctx)
			if err != nil {
				w.logger.Error("reload after file change failed", "events", pending, "error", err)
			} else {
				w.logger.Info("reloaded after file change", "events", pending, "generation", res.Generation)
			}
			pending = 0
		}
	}
}
