// Package notify watches the configuration file and reloads it on change,
// letting operators adjust rate limits or the compression endpoint without
// a restart.
package notify

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/caseloop/contextengine/internal/config"
)

// ConfigWatcher watches one configuration file and dispatches reloaded
// configurations to a callback.
type ConfigWatcher struct {
	path     string
	callback func(*config.Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewConfigWatcher creates a watcher for the configuration file at path.
// The callback receives every successfully reloaded configuration.
func NewConfigWatcher(path string, callback func(*config.Config)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself, so atomic editor saves (write to temp, rename over) are
// still observed. Call Stop() to clean up.
func (cw *ConfigWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(cw.path)); err != nil {
		_ = w.Close()
		return err
	}
	cw.watcher = w

	go cw.loop()
	log.Printf("notify: watching %s for configuration changes", cw.path)
	return nil
}

// Stop shuts down the watcher.
func (cw *ConfigWatcher) Stop() {
	if cw.watcher != nil {
		_ = cw.watcher.Close()
	}
	<-cw.done
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.done)
	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(evt.Name) != filepath.Clean(cw.path) {
				continue
			}
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := config.LoadConfig(cw.path)
	if err != nil {
		log.Printf("WARNING: notify: ignoring invalid configuration: %v", err)
		return
	}
	log.Printf("notify: configuration reloaded from %s", cw.path)
	if cw.callback != nil {
		cw.callback(cfg)
	}
}
