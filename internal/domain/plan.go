// Package domain holds the scheduling data model shared by the registry, the
// elastic-agent orchestrator and the work assigner.
package domain

// ElasticProfile is the plugin-specific provisioning configuration attached to
// a job that runs on a dynamically created agent.
type ElasticProfile struct {
	ID               string            `json:"id"`
	PluginID         string            `json:"plugin_id"`
	ClusterProfileID string            `json:"cluster_profile_id,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// ClusterProfile is plugin configuration shared across elastic profiles,
// resolved by id through an external lookup.
type ClusterProfile struct {
	ID         string            `json:"id"`
	PluginID   string            `json:"plugin_id"`
	Properties map[string]string `json:"properties,omitempty"`
}

// JobPlan is a schedulable unit of work awaiting an agent. A plan appears in
// the job-plan registry at most once and is removed on assignment or when its
// owning pipeline configuration disappears.
type JobPlan struct {
	Identifier     JobIdentifier         `json:"identifier"`
	Resources      []string              `json:"resources,omitempty"`
	Variables      []EnvironmentVariable `json:"variables,omitempty"`
	ElasticProfile *ElasticProfile       `json:"elastic_profile,omitempty"`
	ClusterProfile *ClusterProfile       `json:"cluster_profile,omitempty"`
}

// RequiresElasticAgent reports whether the plan can only run on a
// plugin-provisioned agent.
func (p JobPlan) RequiresElasticAgent() bool {
	return p.ElasticProfile != nil
}

// BuildCause records what triggered the pipeline run a plan belongs to.
type BuildCause struct {
	TriggeredBy string `json:"triggered_by"`
	Revision    string `json:"revision,omitempty"`
	Message     string `json:"message,omitempty"`
}

// JobInstance is the completion-side view of a job: enough to notify the
// provisioning plugin that the agent which ran it is no longer needed.
type JobInstance struct {
	Identifier JobIdentifier `json:"identifier"`
	AgentUUID  string        `json:"agent_uuid"`
	Plan       JobPlan       `json:"plan"`
}

// BuildWork is the dispatchable package handed to an agent after a successful
// match: the plan plus its fully resolved environment-variable context.
type BuildWork struct {
	AgentUUID string
	Plan      JobPlan
	Cause     BuildCause
	Context   *EnvironmentVariableContext
}
