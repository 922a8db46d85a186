package config

import (
	"sync"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// Runtime holds the live configuration shared by the pipeline, the local API and the
// file watcher. Readers get a clone; writers replace the whole value.
type Runtime struct {
	path   string
	events *bus.Bus

	mu  sync.RWMutex
	cfg *Config
}

// NewRuntime wraps cfg, persisted at path. events may be nil.
func NewRuntime(path string, cfg *Config, events *bus.Bus) *Runtime {
	if cfg == nil {
		cfg = Defaults()
	}
	return &Runtime{path: path, cfg: cfg, events: events}
}

// Path returns the config file path.
func (r *Runtime) Path() string { return r.path }

// Get returns a snapshot of the current config.
func (r *Runtime) Get() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Clone()
}

// Update validates cfg, writes it to disk and makes it current.
func (r *Runtime) Update(cfg *Config) error {
	if err := cfg.ApplyDefaults(); err != nil {
		return err
	}
	if err := Save(r.path, cfg); err != nil {
		return err
	}
	r.set(cfg, "api")
	return nil
}

// Replace makes an already-persisted config current (used by the file watcher).
func (r *Runtime) Replace(cfg *Config) {
	r.set(cfg, "config")
}

func (r *Runtime) set(cfg *Config, source string) {
	r.mu.Lock()
	r.cfg = cfg.Clone()
	r.mu.Unlock()

	L_info("config: applied", "source", source, "sttProvider", cfg.STTProviderID)
	if r.events != nil {
		r.events.Publish(bus.TopicConfigApplied, cfg.STTProviderID, source)
	}
}
