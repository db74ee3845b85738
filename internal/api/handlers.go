package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camber-cd/camber/internal/agent"
	"github.com/camber-cd/camber/internal/assignment"
	"github.com/camber-cd/camber/internal/dispatch"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/elastic"
	"github.com/camber-cd/camber/internal/storage"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		AgentsConnected: len(s.agents.All()),
		PluginsLoaded:   len(s.plugins.IDs()),
		MaintenanceMode: s.maintenance.IsMaintenanceMode(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleAgentRegister handles POST /api/v1/agents.
func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UUID == "" {
		s.writeError(w, http.StatusBadRequest, "agent uuid is required")
		return
	}

	a := domain.Agent{
		UUID:            req.UUID,
		Hostname:        req.Hostname,
		Resources:       req.Resources,
		Environments:    req.Environments,
		ElasticPluginID: req.ElasticPluginID,
		ElasticAgentID:  req.ElasticAgentID,
	}
	if err := s.agents.Register(a, req.AutoRegisterKey); err != nil {
		if errors.Is(err, agent.ErrBadAutoRegisterKey) {
			s.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.hub.Publish("agent.registered", map[string]string{"uuid": a.UUID, "hostname": a.Hostname})
	s.logger.Info("agent registered", "agent_uuid", a.UUID, "elastic_plugin_id", a.ElasticPluginID)
	respondJSON(w, http.StatusCreated, a)
}

// handleAgentList handles GET /api/v1/agents.
func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.agents.All())
}

// handleAgentDeregister handles DELETE /api/v1/agents/{uuid}.
func (s *Server) handleAgentDeregister(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	s.agents.Deregister(uuid)
	s.hub.Publish("agent.deregistered", map[string]string{"uuid": uuid})
	w.WriteHeader(http.StatusNoContent)
}

// handleAgentWork handles POST /api/v1/agents/{uuid}/work.
// A 204 means no job matched this poll; the agent should retry on its idle
// interval.
func (s *Server) handleAgentWork(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	work, err := s.assigner.AssignWorkToAgent(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, assignment.ErrAgentNotRegistered) {
			s.writeError(w, http.StatusNotFound, "agent is not registered")
			return
		}
		s.logger.Error("work assignment failed", "agent_uuid", uuid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "work assignment failed")
		return
	}
	if work == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.hub.Publish("job.assigned", map[string]string{
		"job":        work.Plan.Identifier.Key(),
		"agent_uuid": uuid,
	})
	respondJSON(w, http.StatusOK, WorkResponse{
		Job:       work.Plan.Identifier,
		Resources: work.Plan.Resources,
		Cause:     work.Cause,
		Variables: work.Context.Properties(),
	})
}

// handleJobCompleted handles POST /api/v1/agents/{uuid}/jobs/completed.
func (s *Server) handleJobCompleted(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	var req JobCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Job.PipelineName == "" || req.Job.JobName == "" {
		s.writeError(w, http.StatusBadRequest, "job identifier is required")
		return
	}

	if err := s.completer.CompleteJob(r.Context(), req.Job, uuid); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job completion failed", "job", req.Job.Key(), "agent_uuid", uuid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "job completion failed")
		return
	}

	s.hub.Publish("job.completed", map[string]string{
		"job":        req.Job.Key(),
		"agent_uuid": uuid,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// handlePipelineSchedule handles POST /api/v1/pipelines/{pipeline}/schedule.
func (s *Server) handlePipelineSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pipeline")

	var req ScheduleRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	cause := domain.BuildCause{
		TriggeredBy: req.TriggeredBy,
		Revision:    req.Revision,
		Message:     req.Message,
	}
	if cause.TriggeredBy == "" {
		cause.TriggeredBy = "api"
	}

	jobs, err := s.scheduler.SchedulePipeline(r.Context(), name, cause)
	if err != nil {
		if errors.Is(err, dispatch.ErrPipelineNotFound) {
			s.writeError(w, http.StatusNotFound, "pipeline not found")
			return
		}
		if errors.Is(err, dispatch.ErrMaintenanceMode) {
			s.writeError(w, http.StatusConflict, "server is in maintenance mode")
			return
		}
		s.logger.Error("failed to schedule pipeline", "pipeline", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to schedule pipeline")
		return
	}

	resp := ScheduleResponse{Pipeline: name, Jobs: jobs}
	if len(jobs) > 0 {
		resp.Counter = jobs[0].PipelineCounter
	}
	s.logger.Info("pipeline scheduled via API", "pipeline", name, "counter", resp.Counter, "jobs", len(jobs))
	respondJSON(w, http.StatusAccepted, resp)
}

// handleHealthMessages handles GET /api/v1/health/messages.
func (s *Server) handleHealthMessages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.health.States())
}

// handlePluginList handles GET /api/v1/plugins.
func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"plugins": s.plugins.IDs()})
}

// handlePluginStatusReport handles GET /api/v1/plugins/{pluginID}/status_report.
func (s *Server) handlePluginStatusReport(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "pluginID")
	if !s.plugins.Has(pluginID) {
		s.writeError(w, http.StatusNotFound, "plugin not registered")
		return
	}

	report, err := s.reports.PluginStatusReport(r.Context(), pluginID)
	if err != nil {
		if errors.Is(err, elastic.ErrPluginStatusReportUnsupported) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("plugin status report failed", "plugin_id", pluginID, "error", err)
		s.writeError(w, http.StatusBadGateway, "plugin status report failed")
		return
	}
	respondJSON(w, http.StatusOK, StatusReportResponse{PluginID: pluginID, Report: report})
}

// handleAgentStatusReport handles
// GET /api/v1/plugins/{pluginID}/agents/{elasticAgentID}/status_report.
func (s *Server) handleAgentStatusReport(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "pluginID")
	elasticAgentID := chi.URLParam(r, "elasticAgentID")
	clusterProfileID := r.URL.Query().Get("cluster_profile_id")

	if !s.plugins.Has(pluginID) {
		s.writeError(w, http.StatusNotFound, "plugin not registered")
		return
	}

	report, err := s.reports.AgentStatusReport(r.Context(), pluginID, clusterProfileID, elasticAgentID)
	if err != nil {
		if errors.Is(err, elastic.ErrAgentStatusReportUnsupported) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("agent status report failed", "plugin_id", pluginID, "elastic_agent_id", elasticAgentID, "error", err)
		s.writeError(w, http.StatusBadGateway, "agent status report failed")
		return
	}
	respondJSON(w, http.StatusOK, StatusReportResponse{PluginID: pluginID, Report: report})
}

// handleMaintenanceGet handles GET /api/v1/maintenance.
func (s *Server) handleMaintenanceGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, MaintenanceResponse{MaintenanceMode: s.maintenance.IsMaintenanceMode()})
}

// handleMaintenanceEnable handles POST /api/v1/maintenance/enable.
func (s *Server) handleMaintenanceEnable(w http.ResponseWriter, r *http.Request) {
	s.maintenance.Enable()
	s.logger.Info("maintenance mode enabled")
	respondJSON(w, http.StatusOK, MaintenanceResponse{MaintenanceMode: true})
}

// handleMaintenanceDisable handles POST /api/v1/maintenance/disable.
func (s *Server) handleMaintenanceDisable(w http.ResponseWriter, r *http.Request) {
	s.maintenance.Disable()
	s.logger.Info("maintenance mode disabled")
	respondJSON(w, http.StatusOK, MaintenanceResponse{MaintenanceMode: false})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
