package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config directory and hot-reloads networks.json into a
// NetworkSet. A reload that fails to parse keeps the previous list.
type Watcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	done       chan struct{}
	configPath string
	networks   *NetworkSet
	debounce   time.Duration
	onReload   func([]NetworkConfig)
}

// NewWatcher starts watching configPath. onReload, if non-nil, is called
// after each successful reload.
func NewWatcher(configPath string, networks *NetworkSet, onReload func([]NetworkConfig)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(configPath); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", configPath, err)
	}
	log.Printf("INFO: Watching %s for network config changes (auto-reload enabled)", configPath)

	cw := &Watcher{
		watcher:    w,
		done:       make(chan struct{}),
		configPath: configPath,
		networks:   networks,
		debounce:   250 * time.Millisecond,
		onReload:   onReload,
	}
	go cw.watchLoop(w)
	return cw, nil
}

// Stop stops the watcher. It is safe to call more than once.
func (cw *Watcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.watcher == nil {
		return
	}
	close(cw.done)
	cw.watcher.Close()
	cw.watcher = nil
	log.Printf("INFO: Network config watcher stopped")
}

func (cw *Watcher) watchLoop(w *fsnotify.Watcher) {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Base(event.Name), networksConfigFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR: Network config watcher error: %v", err)

		case <-cw.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (cw *Watcher) reload() {
	log.Printf("INFO: Reloading %s...", networksConfigFile)
	nets, err := LoadNetworks(cw.configPath)
	if err != nil {
		log.Printf("ERROR: Failed to reload %s, keeping previous networks: %v", networksConfigFile, err)
		return
	}
	cw.networks.Set(nets)
	log.Printf("INFO: %s reloaded successfully (%d networks)", networksConfigFile, len(nets))
	if cw.onReload != nil {
		cw.onReload(nets)
	}
}
