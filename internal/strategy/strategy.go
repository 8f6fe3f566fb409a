// Package strategy names engine configurations, assembles them into a
// running engine and replays historical bars through it.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"trendline/internal/config"
)

// Strategy is a named engine configuration.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Description is a one-line summary for listings.
	Description() string

	// Config returns a fresh copy of the strategy's configuration.
	Config() config.Strategy
}

// Registry holds a named collection of strategies for lookup and enumeration.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named strategy's configuration with overrides applied.
// Overrides use the YAML keys of the strategy config section.
func (r *Registry) Resolve(name string, overrides map[string]any) (config.Strategy, error) {
	s, ok := r.Get(name)
	if !ok {
		return config.Strategy{}, fmt.Errorf("unknown strategy %q", name)
	}
	return config.Overlay(s.Config(), "", overrides)
}
