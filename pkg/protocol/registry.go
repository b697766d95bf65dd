package protocol

import (
	"slices"
	"sync"
)

// Constructor builds a protocol for a bound session.
type Constructor func(s *Session) Protocol

// Registry maps protocol magics to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry is the process-wide registry, seeded with the Basic
// and Extended protocols.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(MagicBasic, func(s *Session) Protocol { return NewBasic(s) })
	r.Register(MagicExtended, func(s *Session) Protocol { return NewExtended(s) })
	return r
}

// Register adds or replaces the constructor for magic.
func (r *Registry) Register(magic string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[magic] = ctor
}

// Unregister removes the constructor for magic.
func (r *Registry) Unregister(magic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ctors, magic)
}

// Lookup returns the constructor for magic.
func (r *Registry) Lookup(magic string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[magic]
	return ctor, ok
}

// Magics returns the registered magics in sorted order.
func (r *Registry) Magics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	magics := make([]string, 0, len(r.ctors))
	for m := range r.ctors {
		magics = append(magics, m)
	}
	slices.Sort(magics)
	return magics
}
