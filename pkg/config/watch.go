package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch monitors a configuration file and invokes reload with the freshly
// parsed Config whenever the file is created or rewritten. Parse failures
// are reported through onErr (which may be nil) and do not stop the watch.
// The function blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (write-to-temp + rename) are still seen.
func Watch(ctx context.Context, path string, reload func(*Config), onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var (
		mu            sync.Mutex
		pending       bool
		debounceTimer *time.Timer
	)

	doReload := func() {
		mu.Lock()
		pending = false
		mu.Unlock()

		cfg, err := Load(target)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		reload(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// Debounce: editors fire several events per save.
			mu.Lock()
			if !pending {
				pending = true
				debounceTimer = time.AfterFunc(watchDebounce, doReload)
			} else {
				debounceTimer.Reset(watchDebounce)
			}
			mu.Unlock()

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are not fatal.
		}
	}
}
