package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/log"
	"github.com/camber-cd/camber/internal/secret"
)

// ErrAgentNotRegistered is returned when an unknown agent asks for work.
var ErrAgentNotRegistered = errors.New("agent is not registered")

// AgentSource resolves registered agents by uuid.
type AgentSource interface {
	Find(uuid string) (domain.Agent, bool)
}

// BuildCauseLoader loads the trigger information recorded when a pipeline run
// was scheduled.
type BuildCauseLoader interface {
	BuildCauseFor(ctx context.Context, pipeline string, counter int) (domain.BuildCause, error)
}

// Assigner converts a matched job plan into a dispatchable work package.
type Assigner struct {
	agents   AgentSource
	registry *Registry
	causes   BuildCauseLoader
	cfg      *config.Store
	resolver secret.Resolver
	logger   *slog.Logger
}

func NewAssigner(agents AgentSource, registry *Registry, causes BuildCauseLoader, cfg *config.Store, resolver secret.Resolver) *Assigner {
	return &Assigner{
		agents:   agents,
		registry: registry,
		causes:   causes,
		cfg:      cfg,
		resolver: resolver,
		logger:   log.WithComponent("assigner"),
	}
}

// AssignWorkToAgent matches the agent against the registry and, on a match,
// builds the work package: build cause, layered environment-variable context
// and just-in-time resolved secrets. Returns (nil, nil) when no work is
// available; that is not a failure.
func (a *Assigner) AssignWorkToAgent(ctx context.Context, agentUUID string) (*domain.BuildWork, error) {
	agent, ok := a.agents.Find(agentUUID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentUUID)
	}

	plan := a.registry.FindMatchingJob(ctx, agent)
	if plan == nil {
		return nil, nil
	}

	cause, err := a.causes.BuildCauseFor(ctx, plan.Identifier.PipelineName, plan.Identifier.PipelineCounter)
	if err != nil {
		a.registry.Restore(ctx, *plan)
		return nil, fmt.Errorf("load build cause for %s: %w", plan.Identifier.Key(), err)
	}

	envCtx, err := a.buildContext(*plan)
	if err != nil {
		// A failed resolver must not orphan the matched job; put it back and
		// let a later poll retry.
		a.registry.Restore(ctx, *plan)
		return nil, err
	}

	a.logger.Info("assigned job to agent", "job", plan.Identifier.Key(), "agent_uuid", agent.UUID)
	return &domain.BuildWork{
		AgentUUID: agent.UUID,
		Plan:      *plan,
		Cause:     cause,
		Context:   envCtx,
	}, nil
}

// buildContext layers variables pipeline, stage, then job scope; later scopes
// override earlier ones. Secret references are resolved immediately before
// dispatch, once per assignment.
func (a *Assigner) buildContext(plan domain.JobPlan) (*domain.EnvironmentVariableContext, error) {
	id := plan.Identifier
	envCtx := domain.NewEnvironmentVariableContext()
	envCtx.SetProperty("CAMBER_PIPELINE_NAME", id.PipelineName, false)
	envCtx.SetProperty("CAMBER_PIPELINE_COUNTER", strconv.Itoa(id.PipelineCounter), false)
	envCtx.SetProperty("CAMBER_STAGE_NAME", id.StageName, false)
	envCtx.SetProperty("CAMBER_JOB_NAME", id.JobName, false)

	cfg := a.cfg.Get()
	if p := cfg.FindPipeline(id.PipelineName); p != nil {
		applyVariables(envCtx, p.Variables)
		if s := p.FindStage(id.StageName); s != nil {
			applyVariables(envCtx, s.Variables)
		}
	}
	for _, v := range plan.Variables {
		envCtx.SetProperty(v.Name, v.Value, v.Secure)
	}

	for _, v := range envCtx.Properties() {
		ref, ok := secret.ParseRef(v.Value)
		if !ok {
			continue
		}
		resolved, err := a.resolver(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve secret for variable %q: %w", v.Name, err)
		}
		envCtx.SetProperty(v.Name, resolved, true)
	}
	return envCtx, nil
}

func applyVariables(envCtx *domain.EnvironmentVariableContext, vars []config.VariableDef) {
	for _, v := range vars {
		envCtx.SetProperty(v.Name, v.Value, v.Secure)
	}
}
