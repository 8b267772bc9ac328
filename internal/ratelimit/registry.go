package ratelimit

import (
	"sort"
	"sync"
)

// Well-known limiter names.
const (
	// Strict guards credential-sensitive endpoints such as login.
	Strict = "strict"
	// Standard guards general authenticated actions.
	Standard = "standard"
)

// Registry holds independent named limiters. Limiters never share counters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry registers the given limiters by name.
func NewRegistry(limiters ...*Limiter) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(limiters))}
	for _, l := range limiters {
		r.Register(l)
	}
	return r
}

// Register adds or replaces a limiter under its name.
func (r *Registry) Register(l *Limiter) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.limiters[l.Name()] = l
	r.mu.Unlock()
}

// Get returns the limiter registered under name.
func (r *Registry) Get(name string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Names lists registered limiter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the sweep of every registered limiter.
func (r *Registry) Start() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		l.Start()
	}
}

// Shutdown stops the sweep of every registered limiter.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		l.Shutdown()
	}
}
