package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/viwo/viwo/world"
)

// Class wraps a plain capability in a typed value exposing domain methods.
type Class func(c *Capability) Token

// ClassRegistry maps capability types to their classes. Each type may be
// registered once; a second registration is a startup error.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]Class
}

// NewClassRegistry returns a registry holding the built-in classes.
func NewClassRegistry() *ClassRegistry {
	r := &ClassRegistry{classes: make(map[string]Class)}
	r.MustRegister(EntityControlType, NewEntityControl)
	return r
}

// Register adds a class for typ.
func (r *ClassRegistry) Register(typ string, class Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[typ]; exists {
		return fmt.Errorf("Capability class for type '%s' is already registered.", typ)
	}
	r.classes[typ] = class
	return nil
}

// MustRegister is Register for startup code, panicking on duplicates.
func (r *ClassRegistry) MustRegister(typ string, class Class) {
	if err := r.Register(typ, class); err != nil {
		panic(err)
	}
}

// Types lists registered types, sorted.
func (r *ClassRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.classes))
	for t := range r.classes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Hydrate builds the script value for a stored capability. Unknown types
// yield a plain *Capability with no domain methods.
func (r *ClassRegistry) Hydrate(rec *world.CapabilityRecord) Token {
	c := FromRecord(rec)
	r.mu.RLock()
	class, ok := r.classes[rec.Type]
	r.mu.RUnlock()
	if !ok {
		return c
	}
	return class(c)
}
