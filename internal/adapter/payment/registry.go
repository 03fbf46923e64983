package payment

import (
	"sync"

	"github.com/rl1809/keydrop/internal/port"
)

// Registry maps method names to verifiers. New methods plug in without
// touching the allocator.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]port.PaymentMethod
}

func NewRegistry(methods ...port.PaymentMethod) *Registry {
	r := &Registry{methods: make(map[string]port.PaymentMethod, len(methods))}
	for _, m := range methods {
		r.Register(m)
	}
	return r
}

func (r *Registry) Register(m port.PaymentMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.Name()] = m
}

func (r *Registry) Method(name string) (port.PaymentMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

var _ port.PaymentRegistry = (*Registry)(nil)
