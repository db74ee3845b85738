// Package agent tracks the build agents currently registered with the
// server.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/camber-cd/camber/internal/domain"
)

var (
	ErrBadAutoRegisterKey = errors.New("auto-register key mismatch")
	ErrMissingUUID        = errors.New("agent uuid is empty")
)

// Registry is the in-memory set of registered agents, keyed by uuid.
type Registry struct {
	mu              sync.RWMutex
	agents          map[string]domain.Agent
	autoRegisterKey string
}

func NewRegistry(autoRegisterKey string) *Registry {
	return &Registry{
		agents:          make(map[string]domain.Agent),
		autoRegisterKey: autoRegisterKey,
	}
}

// Register adds or refreshes an agent. Elastic agents must present the
// server's auto-register key; the key is what lets a plugin-provisioned
// agent join without manual approval.
func (r *Registry) Register(a domain.Agent, autoRegisterKey string) error {
	if a.UUID == "" {
		return ErrMissingUUID
	}
	if a.IsElastic() {
		if a.ElasticAgentID == "" {
			return fmt.Errorf("elastic agent %s has no elastic agent id", a.UUID)
		}
		if autoRegisterKey != r.autoRegisterKey {
			return ErrBadAutoRegisterKey
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.UUID] = a
	return nil
}

// Deregister removes an agent.
func (r *Registry) Deregister(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, uuid)
}

// Find returns the agent with the given uuid.
func (r *Registry) Find(uuid string) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[uuid]
	return a, ok
}

// All returns every registered agent, ordered by uuid.
func (r *Registry) All() []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// AllElastic returns registered elastic agents grouped by plugin id.
func (r *Registry) AllElastic() map[string][]domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]domain.Agent)
	for _, a := range r.agents {
		if a.IsElastic() {
			out[a.ElasticPluginID] = append(out[a.ElasticPluginID], a)
		}
	}
	return out
}
