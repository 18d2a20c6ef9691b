package hooks

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/taskforge/internal/events"
)

// Factory builds a hook from its configuration
type Factory func(cfg Config) (Hook, error)

type entry struct {
	hook   Hook
	config Config
}

// Registry holds the configured hooks and the factories that build them
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	entries   []entry
}

// NewRegistry creates a registry with the script and webhook factories.
// Script hooks run in workDir.
func NewRegistry(workDir string) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterFactory(TypeScript, func(cfg Config) (Hook, error) {
		return NewScriptHook(cfg, workDir)
	})
	r.RegisterFactory(TypeWebhook, NewWebhookHook)
	return r
}

// RegisterFactory adds or replaces the factory for a hook type
func (r *Registry) RegisterFactory(hookType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register builds the hook declared by cfg. Disabled hooks are accepted
// but never run.
func (r *Registry) Register(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.config.Name == cfg.Name {
			return fmt.Errorf("hook %s already registered", cfg.Name)
		}
	}
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return fmt.Errorf("hook %s: unknown type %q", cfg.Name, cfg.Type)
	}
	hook, err := factory(cfg)
	if err != nil {
		return err
	}
	r.entries = append(r.entries, entry{hook: hook, config: cfg})
	return nil
}

// Unregister removes a hook by name
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.config.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// matching returns the enabled hooks subscribed to e, in registration order
func (r *Registry) matching(e events.Event) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []entry
	for _, en := range r.entries {
		if !en.config.Disabled && en.config.Matches(e) {
			out = append(out, en)
		}
	}
	return out
}

// Count returns the number of registered hooks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
