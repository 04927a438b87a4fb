// Package botruntime is the process-wide registry mapping an agent's
// identifier to its live *agent.Agent, satisfying agent.Registry.
package botruntime

import (
	"fmt"
	"sync"

	"github.com/botscript-go/botscript/agent"
)

// Registry is safe for concurrent use: capability and management code
// looks agents up read-mostly while init/shutdown add and remove rarely.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*agent.Agent)}
}

// Contains reports whether identifier is currently registered.
func (r *Registry) Contains(identifier string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[identifier]
	return ok
}

// Add registers a under identifier, failing if one is already registered
// there (§3 invariant: identifiers are unique within the process).
func (r *Registry) Add(identifier string, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[identifier]; ok {
		return fmt.Errorf("botruntime: %s already registered", identifier)
	}
	r.agents[identifier] = a
	return nil
}

// Remove unregisters identifier, if present.
func (r *Registry) Remove(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, identifier)
}

// Get looks up the agent registered under identifier.
func (r *Registry) Get(identifier string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[identifier]
	return a, ok
}

// Len reports how many agents are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Identifiers returns every currently registered identifier, in no
// particular order.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}
