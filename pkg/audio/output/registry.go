// ABOUTME: Named output constructors with a null fallback
// ABOUTME: Lets configuration pick an output backend by name
package output

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Factory constructs an output
type Factory func() Output

// Registry maps backend names to constructors
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry registers oto, malgo and null
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("oto", NewOto)
	r.Register("malgo", NewMalgo)
	r.Register("null", NewNull)
	return r
}

// Register adds or replaces a backend
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create constructs the named output
func (r *Registry) Create(name string) (Output, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown output %q", name)
	}
	return f(), nil
}

// Select constructs the named output, falling back to null when the name
// is unknown
func (r *Registry) Select(name string) Output {
	out, err := r.Create(name)
	if err == nil {
		return out
	}
	log.Warn().Str("output", name).Msg("output not available, using null output")
	return NewNull()
}
