package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce groups the burst of events a layer dump produces.
const watchDebounce = 100 * time.Millisecond

// Watch reloads a datasource's semantic layer whenever its files change on
// disk. It blocks until ctx is done.
func (w *Workspace) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := w.watchLayers(watcher); err != nil {
		return fmt.Errorf("failed to watch layer directory: %w", err)
	}
	w.logger.Debug("watching semantic layers", slog.String("dir", w.cfg.LayerDir))

	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, isDir := w.layerOf(event.Name)
			if name == "" {
				continue
			}
			if isDir && event.Has(fsnotify.Create) {
				_ = watcher.Add(event.Name)
			}
			if !isDir && filepath.Ext(event.Name) != ".json" {
				continue
			}

			mu.Lock()
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(watchDebounce, func() {
				mu.Lock()
				delete(pending, name)
				mu.Unlock()
				if err := w.Reload(name); err != nil {
					w.logger.Warn("failed to reload semantic layer", slog.String("datasource", name), slog.String("error", err.Error()))
					return
				}
				w.logger.Info("semantic layer reloaded", slog.String("datasource", name))
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Workspace) watchLayers(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(w.cfg.LayerDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.cfg.LayerDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !isScratch(e.Name()) {
			if err := watcher.Add(filepath.Join(w.cfg.LayerDir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// layerOf maps a changed path to the datasource owning it. isDir reports
// whether the path is a layer directory itself.
func (w *Workspace) layerOf(path string) (name string, isDir bool) {
	rel, err := filepath.Rel(w.cfg.LayerDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if isScratch(parts[0]) {
		return "", false
	}
	if _, err := w.Layer(parts[0]); err != nil {
		return "", false
	}
	return parts[0], len(parts) == 1
}

// isScratch reports staging and backup directories written during a dump.
func isScratch(name string) bool {
	return strings.HasPrefix(name, ".") || strings.Contains(name, ".staging-") || strings.Contains(name, ".old-")
}
