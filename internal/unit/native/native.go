// Package native builds service units from Go constructors registered in
// process. The module reference selects a registered builder by name, so new
// modules are linked into the binary and registered at startup.
package native

import (
	"fmt"
	"sync"

	"github.com/abhisheknishant138/rotor/internal/model"
	"github.com/abhisheknishant138/rotor/internal/unit"
)

// Builder constructs one unit instance. It is invoked once per requested
// instance, so every instance carries its own state.
type Builder func(scope []string) (unit.Unit, error)

// Factory resolves module references against the registered builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory creates a native factory with no registered modules.
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Builder)}
}

// RegisterModule makes a builder constructible under the given module
// reference, replacing any previous registration for that reference.
func (f *Factory) RegisterModule(ref string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[ref] = b
}

// Construct builds a fresh instance of the referenced module. An unknown
// reference or a failing builder is a construction fault.
func (f *Factory) Construct(moduleRef string, scope []string) (unit.Unit, error) {
	f.mu.RLock()
	b, ok := f.builders[moduleRef]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native module %q is not registered", moduleRef)
	}

	u, err := b(scope)
	if err != nil {
		return nil, fmt.Errorf("build native module %q: %w", moduleRef, err)
	}
	if u == nil {
		return nil, fmt.Errorf("native module %q: builder returned no unit", moduleRef)
	}
	return u, nil
}

// Info reports the factory's kind and description.
func (f *Factory) Info() unit.FactoryInfo {
	return unit.FactoryInfo{
		Kind:        model.KindNative,
		Description: "service units built from in-process Go constructors",
	}
}

// Funcs adapts a pair of functions into a Unit. Either function may be nil,
// in which case that half of the lifecycle is a successful no-op.
type Funcs struct {
	StartFn func() error
	StopFn  func() error
}

// Start invokes StartFn when set.
func (f Funcs) Start() error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn()
}

// Stop invokes StopFn when set.
func (f Funcs) Stop() error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn()
}
