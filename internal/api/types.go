package api

import (
	"github.com/camber-cd/camber/internal/domain"
)

// RegisterAgentRequest is the JSON body for POST /api/v1/agents.
type RegisterAgentRequest struct {
	UUID            string   `json:"uuid"`
	Hostname        string   `json:"hostname,omitempty"`
	Resources       []string `json:"resources,omitempty"`
	Environments    []string `json:"environments,omitempty"`
	ElasticPluginID string   `json:"elastic_plugin_id,omitempty"`
	ElasticAgentID  string   `json:"elastic_agent_id,omitempty"`
	AutoRegisterKey string   `json:"auto_register_key,omitempty"`
}

// WorkResponse is returned when a polling agent is handed a job.
type WorkResponse struct {
	Job       domain.JobIdentifier        `json:"job"`
	Resources []string                    `json:"resources,omitempty"`
	Cause     domain.BuildCause           `json:"cause"`
	Variables []domain.EnvironmentVariable `json:"variables,omitempty"`
}

// JobCompletedRequest is the JSON body for POST /api/v1/agents/{uuid}/jobs/completed.
type JobCompletedRequest struct {
	Job domain.JobIdentifier `json:"job"`
}

// ScheduleRequest is the optional JSON body for POST /api/v1/pipelines/{pipeline}/schedule.
type ScheduleRequest struct {
	TriggeredBy string `json:"triggered_by,omitempty"`
	Revision    string `json:"revision,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ScheduleResponse lists the job instances created for the new run.
type ScheduleResponse struct {
	Pipeline string                 `json:"pipeline"`
	Counter  int                    `json:"counter"`
	Jobs     []domain.JobIdentifier `json:"jobs"`
}

// MaintenanceResponse is returned by the maintenance endpoints.
type MaintenanceResponse struct {
	MaintenanceMode bool `json:"maintenance_mode"`
}

// StatusReportResponse wraps a plugin-rendered status report.
type StatusReportResponse struct {
	PluginID string `json:"plugin_id"`
	Report   string `json:"report"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	AgentsConnected int    `json:"agents_connected"`
	PluginsLoaded   int    `json:"plugins_loaded"`
	MaintenanceMode bool   `json:"maintenance_mode"`
}
