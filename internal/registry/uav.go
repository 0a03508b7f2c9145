// Package registry owns the authoritative in-memory UAV fleet state,
// guarding every mutation behind a per-entry lock so the scheduler's
// single-assignment invariant holds even under concurrent updates from
// telemetry and dispatch.
package registry

import (
	"sync"

	"github.com/aegisfleet/sentinel/internal/domain"
)

// Store is the narrow persistence contract the registry journals
// through on every mutation; internal/store provides the sqlite-backed
// implementation.
type Store interface {
	SaveUAV(domain.UAV) error
}

type entry struct {
	mu  sync.Mutex
	uav domain.UAV
}

// Registry is the fleet-wide UAV table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	store   Store
}

// New builds an empty Registry journaling through store. A nil store is
// valid for tests that don't care about persistence.
func New(store Store) *Registry {
	return &Registry{entries: make(map[string]*entry), store: store}
}

// Register adds or replaces the UAV record for uav.ID.
func (r *Registry) Register(uav domain.UAV) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[uav.ID] = &entry{uav: uav}
}

// Get returns a copy of the current record for id.
func (r *Registry) Get(id string) (domain.UAV, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.UAV{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uav, true
}

// Snapshot returns a copy of every registered UAV.
func (r *Registry) Snapshot() []domain.UAV {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.UAV, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.uav)
		e.mu.Unlock()
	}
	return out
}

// Update atomically reads and replaces the UAV record for id via
// mutate, then journals the result to the store. mutate receives the
// pre-mutation value and returns the post-mutation value; if mutate
// returns ok=false the update is abandoned and nothing is persisted —
// this is how callers enforce the single-assignment invariant (e.g.
// "only assign if Status == Available").
func (r *Registry) Update(id string, mutate func(domain.UAV) (domain.UAV, bool)) (domain.UAV, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.UAV{}, domain.StateInvariant("registry.Update", errUnknownUAV(id))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := mutate(e.uav)
	if !ok {
		return e.uav, domain.StateInvariant("registry.Update", errRejectedMutation(id))
	}
	e.uav = next

	if r.store != nil {
		if err := r.store.SaveUAV(next); err != nil {
			return next, domain.Transient("registry.Update", err)
		}
	}
	return next, nil
}

// Candidates returns every UAV satisfying predicate, taking a
// consistent per-entry lock and holding the fleet-wide read lock only
// while collecting entries (via Snapshot), so it is safe to
// call from the scheduler loop alongside concurrent Update calls.
func (r *Registry) Candidates(predicate func(domain.UAV) bool) []domain.UAV {
	var out []domain.UAV
	for _, uav := range r.Snapshot() {
		if predicate(uav) {
			out = append(out, uav)
		}
	}
	return out
}

type strError string

func (e strError) Error() string { return string(e) }

func errUnknownUAV(id string) error { return strError("unknown uav: " + id) }
func errRejectedMutation(id string) error {
	return strError("mutation rejected for uav: " + id)
}
