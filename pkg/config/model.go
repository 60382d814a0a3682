package config

import (
	"fmt"
	"sync"

	"github.com/storyforge/engine/pkg/models"
)

// ModelRegistry holds the set of configured Models, keyed by name. It is
// safe for concurrent reads and writes: the chat bridge and fallback
// controller look models up from worker goroutines while configuration
// reload (if ever added) would write to it.
type ModelRegistry struct {
	mu     sync.RWMutex
	byName map[string]*models.Model
}

// NewModelRegistry builds a registry from a loaded config list. Entries
// are defensively copied so callers cannot mutate the stored config
// through a returned pointer.
func NewModelRegistry(entries []models.Model) *ModelRegistry {
	r := &ModelRegistry{byName: make(map[string]*models.Model, len(entries))}
	for i := range entries {
		m := entries[i]
		r.byName[m.Name] = &m
	}
	return r
}

// Get returns a copy of the named model, or false if it is not configured.
func (r *ModelRegistry) Get(name string) (models.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return models.Model{}, false
	}
	return *m, true
}

// Has reports whether name is a configured model.
func (r *ModelRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// All returns a defensive copy of every configured model.
func (r *ModelRegistry) All() []models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Model, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, *m)
	}
	return out
}

// Len returns the number of configured models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// MustGet returns the named model or an error identifying the missing
// reference, for call sites that treat a missing model as fatal.
func (r *ModelRegistry) MustGet(name string) (models.Model, error) {
	m, ok := r.Get(name)
	if !ok {
		return models.Model{}, fmt.Errorf("%w: model %q", ErrModelNotFound, name)
	}
	return m, nil
}
