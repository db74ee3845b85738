// Package plugin tracks the elastic-agent plugins currently registered with
// the server. The dispatch core treats each plugin's capability calls as
// black-box synchronous operations; process management and the wire protocol
// live outside this package.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/camber-cd/camber/internal/domain"
)

// Capabilities advertises which optional report types a plugin supports.
type Capabilities struct {
	SupportsPluginStatusReport bool `json:"supports_plugin_status_report"`
	SupportsAgentStatusReport  bool `json:"supports_agent_status_report"`
}

// ElasticAgentEndpoint is the synchronous capability surface of one
// elastic-agent plugin.
type ElasticAgentEndpoint interface {
	ShouldAssignWork(ctx context.Context, agent domain.ElasticAgentMetadata, environment string, profile domain.ElasticProfile, job domain.JobIdentifier) (bool, error)
	CreateAgent(ctx context.Context, autoRegisterKey, environment string, configuration map[string]string, job domain.JobIdentifier) error
	ServerPing(ctx context.Context) error
	ReportJobCompletion(ctx context.Context, elasticAgentID string, job domain.JobIdentifier, profileConfig, clusterConfig map[string]string) error
	PluginStatusReport(ctx context.Context) (string, error)
	AgentStatusReport(ctx context.Context, clusterConfig map[string]string, elasticAgentID string) (string, error)
}

// Registered pairs a plugin's endpoint with its advertised capabilities.
type Registered struct {
	ID           string
	Capabilities Capabilities
	Endpoint     ElasticAgentEndpoint
}

// Registry is the live set of registered elastic-agent plugins, keyed by
// plugin id. It is populated by the plugin loader, which is out of scope
// here.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Registered
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Registered)}
}

// Register adds or replaces a plugin.
func (r *Registry) Register(p Registered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.ID] = p
}

// Deregister removes a plugin.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
}

// Has reports whether the plugin id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// Get returns the registered plugin for id.
func (r *Registry) Get(id string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// IDs returns all registered plugin ids, sorted for deterministic iteration.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
