package cachebust

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs a refresh, then keeps watching the site root and refreshes again
// whenever an asset is created, written or touched. Bursts of events within
// the debounce window collapse into one pass, and passes never overlap.
// onRefresh receives the outcome of every pass. Watch returns when ctx ends.
func (r *Rewriter) Watch(ctx context.Context, onRefresh func(*Report, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := r.watchTree(watcher, r.opts.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.opts.Dir, err)
	}

	onRefresh(r.Refresh(ctx))
	r.logger.Info("watching for asset changes", "dir", r.opts.Dir)

	assetSet := extSet(r.opts.AssetExts)
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !hidden(ev.Name) {
					if err := r.watchTree(watcher, ev.Name); err != nil {
						r.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
			if hidden(ev.Name) || !assetSet[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Chmod) {
				r.logger.Debug("asset changed", "path", ev.Name, "op", ev.Op.String())
				fire = time.After(r.opts.Debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			onRefresh(r.Refresh(ctx))
		}
	}
}

// watchTree adds dir and every non-hidden directory below it to the watcher.
func (r *Rewriter) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
