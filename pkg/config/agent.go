package config

import (
	"fmt"
	"sync"

	"github.com/storyforge/engine/pkg/models"
)

// AgentRegistry holds the set of configured Agents, keyed by name.
type AgentRegistry struct {
	mu     sync.RWMutex
	byName map[string]*models.Agent
}

// NewAgentRegistry builds a registry from a loaded config list.
func NewAgentRegistry(entries []models.Agent) *AgentRegistry {
	r := &AgentRegistry{byName: make(map[string]*models.Agent, len(entries))}
	for i := range entries {
		a := entries[i]
		r.byName[a.Name] = &a
	}
	return r
}

// Get returns a copy of the named agent, or false if it is not configured.
func (r *AgentRegistry) Get(name string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	if !ok {
		return models.Agent{}, false
	}
	return *a, true
}

// Has reports whether name is a configured agent.
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// All returns a defensive copy of every configured agent.
func (r *AgentRegistry) All() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Agent, 0, len(r.byName))
	for _, a := range r.byName {
		out = append(out, *a)
	}
	return out
}

// Len returns the number of configured agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// MustGet returns the named agent or an error identifying the missing
// reference.
func (r *AgentRegistry) MustGet(name string) (models.Agent, error) {
	a, ok := r.Get(name)
	if !ok {
		return models.Agent{}, fmt.Errorf("%w: agent %q", ErrAgentNotFound, name)
	}
	return a, nil
}
