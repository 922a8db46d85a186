package stt

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roelfdiedericks/goscribe/internal/config"
)

// Factory builds a provider from options.
type Factory func(opts Options) Provider

// ErrUnknownProvider is returned by New for ids with no registered factory.
var ErrUnknownProvider = errors.New("unknown stt provider")

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register(config.STTOpenAI, func(o Options) Provider { return NewOpenAICompatible(config.STTOpenAI, o) })
	Register(config.STTGroq, func(o Options) Provider { return NewOpenAICompatible(config.STTGroq, o) })
	Register(config.STTSiliconFlow, func(o Options) Provider { return NewSiliconFlow(o) })
	Register(config.STTAssemblyAI, func(o Options) Provider { return NewAssemblyAI(o) })
}

// Register adds or replaces the factory for id.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = f
}

// New builds the provider registered under id.
func New(id string, opts Options) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, id)
	}
	return f(opts), nil
}

// NewFromConfig builds the provider selected by cfg.STTProviderID.
func NewFromConfig(cfg *config.Config) (Provider, error) {
	return New(cfg.STTProviderID, OptionsFromConfig(cfg, cfg.STTProviderID))
}

// IDs lists registered provider ids in sorted order.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
