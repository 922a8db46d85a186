package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// reloadDebounce coalesces the burst of events editors produce on save
// (truncate + write, or temp file + rename).
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(*Config)
	events   *bus.Bus
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for path. onChange receives every successfully
// parsed config; without one, events (may be nil) gets a config.applied event directly.
// Pass Runtime.Replace as onChange to keep a Runtime current.
func NewWatcher(path string, events *bus.Bus, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		events:   events,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched because atomic saves
// replace the file and drop a direct file watch.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.running = true

	L_info("config: watching for changes", "file", w.path)
	go w.loop(ctx)
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Base(w.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		L_warn("config: reload failed, keeping previous config", "error", err)
		return
	}
	L_info("config: reloaded", "file", w.path, "sttProvider", cfg.STTProviderID)
	if w.onChange != nil {
		w.onChange(cfg)
		return
	}
	if w.events != nil {
		w.events.Publish(bus.TopicConfigApplied, cfg.STTProviderID, "config")
	}
}
