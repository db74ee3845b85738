package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/events"
	"github.com/camber-cd/camber/internal/health"
)

// AgentRegistry is the connected-agent surface the API exposes.
type AgentRegistry interface {
	Register(a domain.Agent, autoRegisterKey string) error
	Deregister(uuid string)
	All() []domain.Agent
}

// WorkAssigner hands a matching job to a polling agent.
type WorkAssigner interface {
	AssignWorkToAgent(ctx context.Context, agentUUID string) (*domain.BuildWork, error)
}

// PipelineScheduler creates a new pipeline run.
type PipelineScheduler interface {
	SchedulePipeline(ctx context.Context, pipeline string, cause domain.BuildCause) ([]domain.JobIdentifier, error)
}

// JobCompleter records job completion and notifies the provisioning plugin.
type JobCompleter interface {
	CompleteJob(ctx context.Context, id domain.JobIdentifier, agentUUID string) error
}

// HealthSource exposes current server health messages.
type HealthSource interface {
	States() []health.State
}

// MaintenanceService toggles and reports server maintenance mode.
type MaintenanceService interface {
	Enable()
	Disable()
	IsMaintenanceMode() bool
}

// StatusReporter proxies plugin and elastic-agent status reports.
type StatusReporter interface {
	PluginStatusReport(ctx context.Context, pluginID string) (string, error)
	AgentStatusReport(ctx context.Context, pluginID, clusterProfileID, elasticAgentID string) (string, error)
}

// PluginCatalog lists registered elastic-agent plugins.
type PluginCatalog interface {
	IDs() []string
	Has(id string) bool
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token protecting everything under /api/v1.
	APIKey string
}

// Server is the HTTP surface of the dispatch server.
type Server struct {
	config      Config
	agents      AgentRegistry
	assigner    WorkAssigner
	scheduler   PipelineScheduler
	completer   JobCompleter
	health      HealthSource
	maintenance MaintenanceService
	reports     StatusReporter
	plugins     PluginCatalog
	hub         *events.Hub
	logger      *slog.Logger
	server      *http.Server
	startedAt   time.Time
}

func New(config Config, agents AgentRegistry, assigner WorkAssigner, scheduler PipelineScheduler, completer JobCompleter, healthSource HealthSource, maintenance MaintenanceService, reports StatusReporter, plugins PluginCatalog, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:      config,
		agents:      agents,
		assigner:    assigner,
		scheduler:   scheduler,
		completer:   completer,
		health:      healthSource,
		maintenance: maintenance,
		reports:     reports,
		plugins:     plugins,
		hub:         hub,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/agents", s.handleAgentRegister)
		r.Get("/agents", s.handleAgentList)
		r.Delete("/agents/{uuid}", s.handleAgentDeregister)
		r.Post("/agents/{uuid}/work", s.handleAgentWork)
		r.Post("/agents/{uuid}/jobs/completed", s.handleJobCompleted)

		r.Post("/pipelines/{pipeline}/schedule", s.handlePipelineSchedule)

		r.Get("/health/messages", s.handleHealthMessages)

		r.Get("/plugins", s.handlePluginList)
		r.Get("/plugins/{pluginID}/status_report", s.handlePluginStatusReport)
		r.Get("/plugins/{pluginID}/agents/{elasticAgentID}/status_report", s.handleAgentStatusReport)

		r.Get("/maintenance", s.handleMaintenanceGet)
		r.Post("/maintenance/enable", s.handleMaintenanceEnable)
		r.Post("/maintenance/disable", s.handleMaintenanceDisable)

		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
