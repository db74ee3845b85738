// Package assignment owns the job-plan registry and the matching of pending
// job plans to polling agents. All registry mutation (refresh, match-and-
// remove, reconciliation) is serialized behind one mutex so a plan is never
// handed to two agents and never both reconciled away and assigned.
package assignment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/log"
)

// JobSource loads persisted scheduled jobs and records assignment state
// transitions.
type JobSource interface {
	OrderedScheduledJobs(ctx context.Context) ([]domain.JobPlan, error)
	MarkAssigned(ctx context.Context, id domain.JobIdentifier, agentUUID string) error
	MarkScheduled(ctx context.Context, id domain.JobIdentifier) error
}

// MaintenanceChecker reports whether work assignment is suspended
// server-wide. Checked before the registry lock is taken.
type MaintenanceChecker interface {
	IsMaintenanceMode() bool
}

// WorkAcceptor decides whether an elastic agent may take an elastic job. The
// elastic-agent orchestrator implements it; a slow or failing plugin behind
// it must answer false rather than stall matching.
type WorkAcceptor interface {
	ShouldAssignWork(agent domain.ElasticAgentMetadata, environment string, profile domain.ElasticProfile, job domain.JobIdentifier) bool
}

// Registry is the in-memory set of schedulable job plans, kept in stable
// insertion order.
type Registry struct {
	jobs        JobSource
	cfg         *config.Store
	maintenance MaintenanceChecker
	acceptor    WorkAcceptor
	logger      *slog.Logger

	mu    sync.Mutex
	plans []domain.JobPlan
}

func NewRegistry(jobs JobSource, cfg *config.Store, maintenance MaintenanceChecker, acceptor WorkAcceptor) *Registry {
	return &Registry{
		jobs:        jobs,
		cfg:         cfg,
		maintenance: maintenance,
		acceptor:    acceptor,
		logger:      log.WithComponent("assignment"),
	}
}

// Refresh replaces the registry contents with the currently persisted
// scheduled jobs, dropping any whose pipeline/stage/job position no longer
// exists in configuration.
func (r *Registry) Refresh(ctx context.Context) error {
	// Loading inside the lock keeps the reload ordered against in-flight
	// match-and-remove calls: a row marked assigned under the lock can never
	// be read back as scheduled by a refresh that started earlier.
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded, err := r.jobs.OrderedScheduledJobs(ctx)
	if err != nil {
		return err
	}

	cfg := r.cfg.Get()
	plans := make([]domain.JobPlan, 0, len(loaded))
	for _, p := range loaded {
		id := p.Identifier
		if !cfg.ContainsJob(id.PipelineName, id.StageName, id.JobName) {
			r.logger.Debug("dropping job plan for removed config", "job", id.Key())
			continue
		}
		plans = append(plans, p)
	}

	r.plans = plans
	return nil
}

// Snapshot returns a copy of the current plan list in registry order.
func (r *Registry) Snapshot() []domain.JobPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.JobPlan, len(r.plans))
	copy(out, r.plans)
	return out
}

// Size returns the number of plans currently awaiting an agent.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plans)
}

// FindMatchingJob selects and removes the first plan the agent can run, in
// registry order. Returns nil when nothing matches or maintenance mode is
// active. Selection and removal are one operation with respect to concurrent
// callers.
func (r *Registry) FindMatchingJob(ctx context.Context, agent domain.Agent) *domain.JobPlan {
	if r.maintenance.IsMaintenanceMode() {
		return nil
	}

	cfg := r.cfg.Get()

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := -1
	for i, p := range r.plans {
		if r.matches(cfg, agent, p) {
			matched = i
			break
		}
	}
	if matched < 0 {
		return nil
	}
	plan := r.plans[matched]

	// Removal is conditional on the assignment being persisted. A plan whose
	// row stayed scheduled would come back on the next refresh and a second
	// agent could match it, so a failed write means no match this poll.
	if err := r.jobs.MarkAssigned(ctx, plan.Identifier, agent.UUID); err != nil {
		r.logger.Error("failed to persist assignment, job stays schedulable", "job", plan.Identifier.Key(), "agent_uuid", agent.UUID, "error", err)
		return nil
	}
	r.plans = append(r.plans[:matched], r.plans[matched+1:]...)
	return &plan
}

// Restore returns a plan taken by FindMatchingJob to the registry and reverts
// its persisted state to scheduled, clearing the agent. Called when building
// the work package fails after the match; the job stays eligible for the next
// poll instead of sitting assigned with no agent running it.
func (r *Registry) Restore(ctx context.Context, plan domain.JobPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.jobs.MarkScheduled(ctx, plan.Identifier); err != nil {
		r.logger.Error("failed to revert assignment", "job", plan.Identifier.Key(), "error", err)
	}
	// Re-add ahead of the queue; the plan was the oldest eligible match.
	r.plans = append([]domain.JobPlan{plan}, r.plans...)
}

func (r *Registry) matches(cfg *config.Config, agent domain.Agent, p domain.JobPlan) bool {
	env := cfg.EnvironmentFor(p.Identifier.PipelineName)
	if env != "" && !agent.InEnvironment(env) {
		return false
	}

	if agent.IsElastic() {
		if p.ElasticProfile == nil || p.ElasticProfile.PluginID != agent.ElasticPluginID {
			return false
		}
		return r.acceptor.ShouldAssignWork(agent.ElasticAgentMetadata(), env, *p.ElasticProfile, p.Identifier)
	}

	if p.RequiresElasticAgent() {
		return false
	}
	return agent.HasResources(p.Resources)
}

// PipelineConfigChanged removes every plan whose stage/job position is absent
// from the updated pipeline definition. Plans of other pipelines are
// untouched; calling it again with the same definition is a no-op.
func (r *Registry) PipelineConfigChanged(p config.PipelineConfig) {
	removed := r.removeMatching(func(plan domain.JobPlan) bool {
		id := plan.Identifier
		return id.PipelineName == p.Name && !p.ContainsJob(id.StageName, id.JobName)
	})
	if removed > 0 {
		r.logger.Info("reconciled job plans after pipeline update", "pipeline", p.Name, "removed", removed)
	}
}

// PipelineDeleted removes every plan belonging to the deleted pipeline.
func (r *Registry) PipelineDeleted(name string) {
	removed := r.removeMatching(func(plan domain.JobPlan) bool {
		return plan.Identifier.PipelineName == name
	})
	if removed > 0 {
		r.logger.Info("reconciled job plans after pipeline delete", "pipeline", name, "removed", removed)
	}
}

func (r *Registry) removeMatching(stale func(domain.JobPlan) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.plans[:0]
	removed := 0
	for _, p := range r.plans {
		if stale(p) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	r.plans = kept
	return removed
}
