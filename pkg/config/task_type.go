package config

import (
	"fmt"
	"sync"

	"github.com/storyforge/engine/pkg/models"
)

// TaskTypeRegistry holds the set of configured TaskTypes, keyed by name.
type TaskTypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]*models.TaskType
}

// NewTaskTypeRegistry builds a registry from a loaded config list.
func NewTaskTypeRegistry(entries []models.TaskType) *TaskTypeRegistry {
	r := &TaskTypeRegistry{byName: make(map[string]*models.TaskType, len(entries))}
	for i := range entries {
		t := entries[i]
		r.byName[t.Name] = &t
	}
	return r
}

// Get returns a copy of the named task type, or false if not configured.
func (r *TaskTypeRegistry) Get(name string) (models.TaskType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return models.TaskType{}, false
	}
	return *t, true
}

// Has reports whether name is a configured task type.
func (r *TaskTypeRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// All returns a defensive copy of every configured task type.
func (r *TaskTypeRegistry) All() []models.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.TaskType, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, *t)
	}
	return out
}

// Len returns the number of configured task types.
func (r *TaskTypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// MustGet returns the named task type or an error identifying the
// missing reference.
func (r *TaskTypeRegistry) MustGet(name string) (models.TaskType, error) {
	t, ok := r.Get(name)
	if !ok {
		return models.TaskType{}, fmt.Errorf("%w: task type %q", ErrTaskTypeNotFound, name)
	}
	return t, nil
}
