package provider

import (
	"fmt"
	"net"
)

// Registry maps provider ids to providers.
//
// The provider set is fixed at construction, so lookups take no locks and
// are safe from any goroutine.
type Registry struct {
	providers map[string]Provider
	order     []string
	byAddress map[string]string
}

// NewRegistry creates a registry holding providers in the given order.
// Ids must be unique across all kinds.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		order:     make([]string, 0, len(providers)),
		byAddress: make(map[string]string),
	}

	for _, p := range providers {
		id := p.ID()
		if _, exists := r.providers[id]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		r.providers[id] = p
		r.order = append(r.order, id)

		if a, ok := p.(Addressed); ok && a.Address() != "" {
			r.byAddress[a.Address()] = id
			// Senders are identified by IP alone.
			if host, _, err := net.SplitHostPort(a.Address()); err == nil {
				r.byAddress[host] = id
			}
		}
	}

	return r, nil
}

// Resolve returns the provider registered under id.
// Returns ErrNotFound if there is none.
func (r *Registry) Resolve(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// IDs returns every registered id in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// LookupAddress returns the id of the provider reachable at addr, which
// may be a bare host or the exact configured address.
func (r *Registry) LookupAddress(addr string) (string, bool) {
	id, ok := r.byAddress[addr]
	return id, ok
}
