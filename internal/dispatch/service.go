package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/camber-cd/camber/internal/assignment"
	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/log"
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrMaintenanceMode  = errors.New("server is in maintenance mode")
)

// JobStore is the persistence surface the dispatch service needs.
type JobStore interface {
	Save(ctx context.Context, plan domain.JobPlan, cause domain.BuildCause) error
	NextPipelineCounter(ctx context.Context, pipeline string) (int, error)
	PlanFor(ctx context.Context, id domain.JobIdentifier) (domain.JobPlan, error)
	MarkCompleted(ctx context.Context, id domain.JobIdentifier) error
}

// PlanRefresher picks up newly persisted plans without waiting for the next
// scheduling tick.
type PlanRefresher interface {
	Refresh(ctx context.Context) error
}

// CompletionNotifier tells the provisioning plugin the agent that ran a job
// is no longer needed.
type CompletionNotifier interface {
	JobCompleted(ctx context.Context, job domain.JobInstance) error
}

// MaintenanceChecker gates scheduling during maintenance windows.
type MaintenanceChecker interface {
	IsMaintenanceMode() bool
}

// Service schedules pipeline runs and records job completions.
type Service struct {
	cfg         *config.Store
	jobs        JobStore
	registry    PlanRefresher
	notifier    CompletionNotifier
	maintenance MaintenanceChecker
	logger      *slog.Logger
}

func NewService(cfg *config.Store, jobs JobStore, registry PlanRefresher, notifier CompletionNotifier, maintenance MaintenanceChecker) *Service {
	return &Service{
		cfg:         cfg,
		jobs:        jobs,
		registry:    registry,
		notifier:    notifier,
		maintenance: maintenance,
		logger:      log.WithComponent("dispatch"),
	}
}

// SchedulePipeline creates a new run of the named pipeline: it allocates the
// next run counter, builds job plans for the entry stage and persists them as
// scheduled. The returned identifiers all carry the new counter.
func (s *Service) SchedulePipeline(ctx context.Context, pipeline string, cause domain.BuildCause) ([]domain.JobIdentifier, error) {
	if s.maintenance.IsMaintenanceMode() {
		return nil, ErrMaintenanceMode
	}

	cfg := s.cfg.Get()
	def := cfg.FindPipeline(pipeline)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
	}

	counter, err := s.jobs.NextPipelineCounter(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("allocate run counter for %s: %w", pipeline, err)
	}

	plans, err := assignment.BuildJobPlans(cfg, *def, counter)
	if err != nil {
		return nil, fmt.Errorf("build job plans for %s/%d: %w", pipeline, counter, err)
	}

	ids := make([]domain.JobIdentifier, 0, len(plans))
	for _, plan := range plans {
		if err := s.jobs.Save(ctx, plan, cause); err != nil {
			return nil, fmt.Errorf("persist job %s: %w", plan.Identifier.Key(), err)
		}
		ids = append(ids, plan.Identifier)
	}

	if err := s.registry.Refresh(ctx); err != nil {
		// Plans are persisted; the next tick picks them up.
		s.logger.Warn("registry refresh after scheduling failed", "pipeline", pipeline, "error", err)
	}

	s.logger.Info("pipeline run scheduled",
		"pipeline", pipeline,
		"counter", counter,
		"jobs", len(ids),
		"triggered_by", cause.TriggeredBy,
	)
	return ids, nil
}

// CompleteJob marks the job instance completed and, when the reporting agent
// is elastic, notifies its plugin through the outbound queue.
func (s *Service) CompleteJob(ctx context.Context, id domain.JobIdentifier, agentUUID string) error {
	plan, err := s.jobs.PlanFor(ctx, id)
	if err != nil {
		return err
	}
	if err := s.jobs.MarkCompleted(ctx, id); err != nil {
		return err
	}

	instance := domain.JobInstance{
		Identifier: id,
		AgentUUID:  agentUUID,
		Plan:       plan,
	}
	if err := s.notifier.JobCompleted(ctx, instance); err != nil {
		return fmt.Errorf("notify plugin of completion for %s: %w", id.Key(), err)
	}
	s.logger.Info("job completed", "job", id.Key(), "agent_uuid", agentUUID)
	return nil
}
