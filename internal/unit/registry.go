package unit

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered factories keyed by unit kind. Factories are
// registered once at startup; resolution happens inside every launch task,
// so lookups must be safe from any context concurrently.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given kind tag, replacing any previous
// registration for that kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Resolve returns the factory for the given kind, or an error if no factory
// is registered under that tag.
func (r *Registry) Resolve(kind string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unit kind %q is not registered", kind)
	}
	return f, nil
}

// List returns information about all registered factories, sorted by kind
// for a stable API response.
func (r *Registry) List() []FactoryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]FactoryInfo, 0, len(r.factories))
	for _, f := range r.factories {
		infos = append(infos, f.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}
