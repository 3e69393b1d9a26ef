package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Tinkoff/stream-client/log"
)

// Watch re-loads the file whenever it changes and hands the fresh
// configuration to apply. The configured log level is pushed to the
// installed logger before apply runs; apply may be nil when live log-level
// changes are all that is wanted.
//
// Timeouts, pool size and the like are construction-time options; a
// changed file does not rewire already built pools.
//
// The returned stop function ends the watch.
func Watch(path string, apply func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch the directory: editors typically rename over the file, which
	// drops a watch registered on the file itself
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Logf(log.Warning, "config", "reload of %s failed: %v", path, err)
					continue
				}
				log.Logf(log.Info, "config", "reloaded %s", path)
				cfg.ApplyLogLevel()
				if apply != nil {
					apply(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Logf(log.Warning, "config", "watch error: %v", err)
			}
		}
	}()

	return watcher.Close, nil
}
