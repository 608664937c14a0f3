package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events editors emit for one save.
const debounce = 200 * time.Millisecond

// Watch calls fn with the reloaded config each time path changes, until ctx
// is done. The parent directory is watched so that atomic renames are seen.
// A file that fails to parse is logged and skipped.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	if path == "" {
		return fmt.Errorf("watch config: empty path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch config %s: %w", dir, err)
	}
	name := filepath.Clean(path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("xconn: config watch: %v", err)
		case <-fire:
			fire = nil
			cfg, err := LoadFile(path)
			if err != nil {
				log.Printf("xconn: config reload: %v", err)
				continue
			}
			fn(cfg)
		}
	}
}
