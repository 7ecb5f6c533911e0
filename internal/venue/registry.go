// Package venue provides runtime selection of venue adapters. Heterogeneous
// chain+exchange backends all satisfy domain.VenueAdapter and are dispatched
// through a registry keyed by venue id.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amanahq/flasharb/internal/domain"
)

// Registry holds named venue adapters for selection by venue id.
type Registry struct {
	adapters map[string]domain.VenueAdapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.VenueAdapter)}
}

// Register adds an adapter under its own id. Re-registering an id replaces
// the previous adapter.
func (r *Registry) Register(a domain.VenueAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns the adapter for the venue id, or an error if not registered.
func (r *Registry) Get(venueID string) (domain.VenueAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[venueID]
	if !ok {
		return nil, fmt.Errorf("venue %q not registered: %w", venueID, domain.ErrNotFound)
	}
	return a, nil
}

// All returns every registered adapter ordered by venue id.
func (r *Registry) All() []domain.VenueAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.VenueAdapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// IDs returns all registered venue ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
