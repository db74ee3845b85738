// Package scheduler drives the periodic scheduling passes: registry refresh,
// config-change reconciliation, elastic agent creation and plugin
// heartbeats.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/events"
	"github.com/camber-cd/camber/internal/log"
)

// PlanRegistry is the job-plan registry surface the scheduler drives.
type PlanRegistry interface {
	Refresh(ctx context.Context) error
	Snapshot() []domain.JobPlan
	PipelineConfigChanged(p config.PipelineConfig)
	PipelineDeleted(name string)
}

// AgentCreator turns the tick-over-tick plan diff into agent-creation
// requests and heartbeats.
type AgentCreator interface {
	CreateAgentsFor(ctx context.Context, previous, current []domain.JobPlan)
	Heartbeat(ctx context.Context)
}

// MaintenanceChecker reports whether scheduling is suspended server-wide.
type MaintenanceChecker interface {
	IsMaintenanceMode() bool
}

// ConfigReloader produces a fresh configuration snapshot, or nil when the
// source is unchanged or unavailable.
type ConfigReloader func() (*config.Config, error)

// Scheduler owns the tick and heartbeat loops.
type Scheduler struct {
	cfg         *config.Store
	registry    PlanRegistry
	creator     AgentCreator
	maintenance MaintenanceChecker
	reload      ConfigReloader
	hub         *events.Hub
	logger      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	previous []domain.JobPlan
}

func New(cfg *config.Store, registry PlanRegistry, creator AgentCreator, maintenance MaintenanceChecker, reload ConfigReloader, hub *events.Hub) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		creator:     creator,
		maintenance: maintenance,
		reload:      reload,
		hub:         hub,
		logger:      log.WithComponent("scheduler"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the tick and heartbeat loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler")
	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.heartbeatLoop(ctx)
}

// Stop gracefully stops both loops.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial tick immediately.
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Get().Server.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Get().Server.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.creator.Heartbeat(ctx)
			s.hub.Publish("scheduler.heartbeat", nil)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one scheduling pass. During maintenance mode the pass is
// skipped before any shared state is touched.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.maintenance.IsMaintenanceMode() {
		s.logger.Debug("maintenance mode active, skipping scheduling pass")
		return
	}

	s.hub.Publish("scheduler.tick", map[string]any{"at": time.Now().UTC()})
	s.reconcileConfig()

	if err := s.registry.Refresh(ctx); err != nil {
		s.logger.Error("failed to refresh job-plan registry", "error", err)
		return
	}

	current := s.registry.Snapshot()
	s.creator.CreateAgentsFor(ctx, s.previous, current)
	s.previous = current
}

// reconcileConfig reloads configuration and applies pipeline-level changes to
// the registry. A failed reload keeps the previous snapshot; reconciliation
// retries next tick.
func (s *Scheduler) reconcileConfig() {
	if s.reload == nil {
		return
	}
	next, err := s.reload()
	if err != nil {
		s.logger.Error("failed to reload configuration", "error", err)
		return
	}
	if next == nil {
		return
	}

	prev := s.cfg.Get()
	changed, deleted, err := config.Diff(prev, next)
	if err != nil {
		s.logger.Error("failed to diff configuration", "error", err)
		return
	}

	s.cfg.Replace(next)
	for _, p := range changed {
		s.registry.PipelineConfigChanged(p)
		s.hub.Publish("config.pipeline_changed", map[string]string{"pipeline": p.Name})
	}
	for _, name := range deleted {
		s.registry.PipelineDeleted(name)
		s.hub.Publish("config.pipeline_deleted", map[string]string{"pipeline": name})
	}
}
