package domain

import "slices"

// Agent is a registered build agent. Elastic agents additionally carry the id
// of the plugin that provisioned them and the plugin's own id for the
// instance.
type Agent struct {
	UUID            string   `json:"uuid"`
	Hostname        string   `json:"hostname,omitempty"`
	Resources       []string `json:"resources,omitempty"`
	Environments    []string `json:"environments,omitempty"`
	ElasticPluginID string   `json:"elastic_plugin_id,omitempty"`
	ElasticAgentID  string   `json:"elastic_agent_id,omitempty"`
}

// IsElastic reports whether the agent was provisioned by an elastic-agent
// plugin.
func (a Agent) IsElastic() bool {
	return a.ElasticPluginID != ""
}

// InEnvironment reports whether the agent is a member of the named
// environment.
func (a Agent) InEnvironment(env string) bool {
	return slices.Contains(a.Environments, env)
}

// HasResources reports whether every required resource is present on the
// agent.
func (a Agent) HasResources(required []string) bool {
	for _, r := range required {
		if !slices.Contains(a.Resources, r) {
			return false
		}
	}
	return true
}

// ElasticAgentMetadata is the subset of agent identity passed to plugin
// capability calls.
type ElasticAgentMetadata struct {
	UUID           string `json:"uuid"`
	ElasticAgentID string `json:"elastic_agent_id"`
	PluginID       string `json:"plugin_id"`
}

// ElasticAgentMetadata projects the plugin-facing identity of the agent.
func (a Agent) ElasticAgentMetadata() ElasticAgentMetadata {
	return ElasticAgentMetadata{
		UUID:           a.UUID,
		ElasticAgentID: a.ElasticAgentID,
		PluginID:       a.ElasticPluginID,
	}
}
