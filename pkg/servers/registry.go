package servers

import (
	"fmt"
	"sync"
)

// Registry is the append-only set of configured servers, kept in registration
// order.
type Registry struct {
	mu      sync.RWMutex
	servers []Server
}

func NewRegistry(servers ...Server) (*Registry, error) {
	r := &Registry{}
	for _, s := range servers {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends s. Names are unique.
func (r *Registry) Register(s Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.servers {
		if existing.Name() == s.Name() {
			return fmt.Errorf("server %q already registered", s.Name())
		}
	}
	r.servers = append(r.servers, s)
	return nil
}

// ByName returns the server called name or ErrNotFound.
func (r *Registry) ByName(name string) (Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", name, ErrNotFound)
}

// All returns every server in registration order.
func (r *Registry) All() []Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Server, len(r.servers))
	copy(out, r.servers)
	return out
}

// Supporting returns the servers advertising every flag in caps.
func (r *Registry) Supporting(caps Capability) []Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Server
	for _, s := range r.servers {
		if s.Capabilities().Has(caps) {
			out = append(out, s)
		}
	}
	return out
}
