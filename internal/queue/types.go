package queue

import (
	"encoding/json"
	"time"

	"github.com/camber-cd/camber/internal/domain"
)

// Topic names the kind of an outbound plugin message.
type Topic string

const (
	TopicServerPing    Topic = "server_ping"
	TopicCreateAgent   Topic = "create_agent"
	TopicJobCompletion Topic = "job_completion"
)

// Message statuses as persisted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusExpired   Status = "expired"
)

// Message is one outbound posting addressed to a plugin. Delivery is
// at-least-once: a failed attempt leaves the message pending until it either
// delivers or outlives its expiry.
type Message struct {
	ID          string
	Topic       Topic
	PluginID    string
	Payload     json.RawMessage
	Status      Status
	Attempt     int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	DeliveredAt *time.Time
	LastError   *string
}

// ServerPingMessage is the periodic heartbeat payload.
type ServerPingMessage struct {
	PluginID string `json:"plugin_id"`
}

// CreateAgentMessage asks a plugin to provision an agent for a starving job.
type CreateAgentMessage struct {
	AutoRegisterKey string               `json:"auto_register_key"`
	PluginID        string               `json:"plugin_id"`
	Configuration   map[string]string    `json:"configuration,omitempty"`
	Environment     string               `json:"environment,omitempty"`
	JobIdentifier   domain.JobIdentifier `json:"job_identifier"`
}

// JobCompletionMessage tells a plugin that the agent it provisioned has
// finished its job and can be reclaimed.
type JobCompletionMessage struct {
	PluginID             string               `json:"plugin_id"`
	ElasticAgentID       string               `json:"elastic_agent_id"`
	JobIdentifier        domain.JobIdentifier `json:"job_identifier"`
	ElasticProfileConfig map[string]string    `json:"elastic_profile_config,omitempty"`
	ClusterProfileConfig map[string]string    `json:"cluster_profile_config,omitempty"`
}
