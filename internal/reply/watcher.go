package reply

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 200 * time.Millisecond

// CatalogWatcher serves the catalog at path and swaps in a new one whenever
// the file changes. A reload that fails to parse keeps the previous catalog.
type CatalogWatcher struct {
	path    string
	current atomic.Pointer[Catalog]
	logger  *zap.Logger
}

func NewCatalogWatcher(path string, logger *zap.Logger) (*CatalogWatcher, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	w := &CatalogWatcher{path: path, logger: logger}
	w.current.Store(c)
	return w, nil
}

func (w *CatalogWatcher) Current() *Catalog { return w.current.Load() }

// Reload re-reads the catalog file.
func (w *CatalogWatcher) Reload() error {
	c, err := LoadCatalog(w.path)
	if err != nil {
		return err
	}
	w.current.Store(c)
	return nil
}

// Run watches the catalog's directory until ctx is done. With the embedded
// catalog there is nothing to watch and Run just waits.
func (w *CatalogWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer fw.Close()

	// Editors replace files by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	reload := func() {
		if err := w.Reload(); err != nil {
			w.logger.Warn("catalog reload failed, keeping previous", zap.String("path", w.path), zap.Error(err))
			return
		}
		w.logger.Info("catalog reloaded", zap.String("path", w.path))
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(e.Name) != target {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
