// Package elastic drives the lifecycle of plugin-provisioned agents:
// heartbeats to every registered plugin, throttled agent-creation requests
// for starving jobs, missing-plugin health reporting and job-completion
// notification back to the owning plugin.
package elastic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/health"
	"github.com/camber-cd/camber/internal/log"
	"github.com/camber-cd/camber/internal/plugin"
	"github.com/camber-cd/camber/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/camber-cd/camber/internal/elastic Poster,HealthReporter,AgentSource

// heartbeatTTLMargin is subtracted from the heartbeat interval when computing
// a ping's time-to-live, so a stale ping expires instead of arriving after
// the next one was due.
const heartbeatTTLMargin = 10 * time.Second

// ErrPluginStatusReportUnsupported is returned when a plugin does not
// advertise the plugin status report capability.
var ErrPluginStatusReportUnsupported = fmt.Errorf("plugin does not support status report")

// ErrAgentStatusReportUnsupported is returned when a plugin does not
// advertise the agent status report capability.
var ErrAgentStatusReportUnsupported = fmt.Errorf("plugin does not support agent status report")

// Poster is the at-least-once outbound message channel.
type Poster interface {
	Post(ctx context.Context, topic queue.Topic, pluginID string, payload any, ttl time.Duration) (string, error)
}

// HealthReporter is the set/clear health side channel keyed by scope.
type HealthReporter interface {
	Update(s health.State)
	RemoveByScope(scope string)
}

// AgentSource resolves registered agents by uuid.
type AgentSource interface {
	Find(uuid string) (domain.Agent, bool)
}

// pendingRequest tracks one job awaiting a plugin-provisioned agent. It
// exists only while the job's plugin is registered; a job flagged for a
// missing plugin is tracked in missing instead, never in both.
type pendingRequest struct {
	firstSeen time.Time
	lastPost  time.Time
}

// Orchestrator owns the plugin registry view, the pending-creation tracker
// and the missing-plugin bookkeeping.
type Orchestrator struct {
	plugins  *plugin.Registry
	agents   AgentSource
	cfg      *config.Store
	poster   Poster
	reporter HealthReporter
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]pendingRequest // job key -> creation-request record
	missing map[string]string         // job key -> health scope
}

func NewOrchestrator(plugins *plugin.Registry, agents AgentSource, cfg *config.Store, poster Poster, reporter HealthReporter) *Orchestrator {
	return &Orchestrator{
		plugins:  plugins,
		agents:   agents,
		cfg:      cfg,
		poster:   poster,
		reporter: reporter,
		logger:   log.WithComponent("elastic"),
		now:      time.Now,
		pending:  make(map[string]pendingRequest),
		missing:  make(map[string]string),
	}
}

// Heartbeat posts a ping to every registered elastic-agent plugin. The
// time-to-live is the heartbeat interval minus a safety margin so an
// undelivered ping expires rather than arriving late.
func (o *Orchestrator) Heartbeat(ctx context.Context) {
	ttl := o.cfg.Get().Server.HeartbeatInterval - heartbeatTTLMargin
	for _, id := range o.plugins.IDs() {
		if _, err := o.poster.Post(ctx, queue.TopicServerPing, id, queue.ServerPingMessage{PluginID: id}, ttl); err != nil {
			o.logger.Error("failed to post server ping", "plugin_id", id, "error", err)
		}
	}
}

// CreateAgentsFor diffs the job-plan set across ticks and requests agents for
// elastic jobs that are newly outstanding, starving past the configured
// threshold, or still blocked on an unregistered plugin.
func (o *Orchestrator) CreateAgentsFor(ctx context.Context, previous, current []domain.JobPlan) {
	now := o.now()
	cfg := o.cfg.Get()
	threshold := cfg.Server.StarvationThreshold

	o.mu.Lock()
	defer o.mu.Unlock()

	outstanding := make(map[string]bool, len(current))
	for _, p := range current {
		outstanding[p.Identifier.Key()] = true
	}
	// A job that left the outstanding set takes its bookkeeping with it.
	for key := range o.pending {
		if !outstanding[key] {
			delete(o.pending, key)
		}
	}
	for key, scope := range o.missing {
		if !outstanding[key] {
			delete(o.missing, key)
			o.reporter.RemoveByScope(scope)
		}
	}

	previousKeys := make(map[string]bool, len(previous))
	for _, p := range previous {
		previousKeys[p.Identifier.Key()] = true
	}

	for _, p := range current {
		if !p.RequiresElasticAgent() {
			continue
		}
		key := p.Identifier.Key()

		switch {
		case !previousKeys[key]:
			// Newly outstanding.
		case o.isStarvingLocked(key, now, threshold):
			// Waited a full threshold since the last request.
		case o.missing[key] != "":
			// Plugin still unregistered; keep reporting.
		default:
			continue
		}
		o.requestAgentLocked(ctx, cfg, p, now, threshold)
	}
}

func (o *Orchestrator) isStarvingLocked(key string, now time.Time, threshold time.Duration) bool {
	rec, ok := o.pending[key]
	return ok && now.Sub(rec.lastPost) >= threshold
}

func (o *Orchestrator) requestAgentLocked(ctx context.Context, cfg *config.Config, p domain.JobPlan, now time.Time, threshold time.Duration) {
	key := p.Identifier.Key()
	scope := p.Identifier.ConfigKey()
	pluginID := p.ElasticProfile.PluginID

	if !o.plugins.Has(pluginID) {
		delete(o.pending, key)
		o.missing[key] = scope
		o.reporter.Update(missingPluginState(scope, pluginID))
		o.logger.Warn("elastic plugin for job is not registered", "job", key, "plugin_id", pluginID)
		return
	}

	// TTL shrinks with the time the job has already spent waiting, so a
	// request that outlives the starvation window expires instead of
	// provisioning an agent nobody is waiting for.
	ttl := threshold
	rec, waiting := o.pending[key]
	firstSeen := now
	if waiting {
		firstSeen = rec.firstSeen
		ttl = threshold - now.Sub(rec.firstSeen)
	}
	o.pending[key] = pendingRequest{firstSeen: firstSeen, lastPost: now}
	delete(o.missing, key)

	configuration := make(map[string]string)
	if cluster := cfg.FindClusterProfile(p.ElasticProfile.ClusterProfileID); cluster != nil {
		for k, v := range cluster.Properties {
			configuration[k] = v
		}
	}
	for k, v := range p.ElasticProfile.Properties {
		configuration[k] = v
	}

	msg := queue.CreateAgentMessage{
		AutoRegisterKey: cfg.Server.AutoRegisterKey,
		PluginID:        pluginID,
		Configuration:   configuration,
		Environment:     cfg.EnvironmentFor(p.Identifier.PipelineName),
		JobIdentifier:   p.Identifier,
	}
	if _, err := o.poster.Post(ctx, queue.TopicCreateAgent, pluginID, msg, ttl); err != nil {
		o.logger.Error("failed to post create-agent request", "job", key, "plugin_id", pluginID, "error", err)
		return
	}
	o.reporter.RemoveByScope(scope)
	o.logger.Info("requested elastic agent", "job", key, "plugin_id", pluginID, "ttl", ttl)
}

func missingPluginState(scope, pluginID string) health.State {
	return health.State{
		Scope:   scope,
		Level:   health.LevelError,
		Message: fmt.Sprintf("Unable to find agent for %s", scope),
		Description: fmt.Sprintf("Plugin [%s] associated with %s is missing. "+
			"Either the plugin is not installed or could not be registered. "+
			"Please check plugins tab and server logs for more details.", pluginID, scope),
	}
}

// ShouldAssignWork answers whether the elastic agent may take the job. An
// agent brought up by a different plugin is refused without any plugin call;
// otherwise the plugin decides, with errors and timeouts counting as
// refusal. The call is bounded so a slow plugin cannot stall matching.
func (o *Orchestrator) ShouldAssignWork(agent domain.ElasticAgentMetadata, environment string, profile domain.ElasticProfile, job domain.JobIdentifier) bool {
	if agent.PluginID != profile.PluginID {
		return false
	}
	p, ok := o.plugins.Get(profile.PluginID)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Get().Server.PluginCallTimeout)
	defer cancel()

	assign, err := p.Endpoint.ShouldAssignWork(ctx, agent, environment, profile, job)
	if err != nil {
		o.logger.Warn("shouldAssignWork call failed, refusing candidate", "plugin_id", profile.PluginID, "job", job.Key(), "error", err)
		return false
	}
	return assign
}

// JobCompleted notifies the provisioning plugin that the agent which ran the
// job is done. A job that ran on a non-elastic agent needs no notification.
func (o *Orchestrator) JobCompleted(ctx context.Context, job domain.JobInstance) error {
	agent, ok := o.agents.Find(job.AgentUUID)
	if !ok {
		o.logger.Warn("completed job references unknown agent", "job", job.Identifier.Key(), "agent_uuid", job.AgentUUID)
		return nil
	}
	if !agent.IsElastic() {
		return nil
	}

	profile := job.Plan.ElasticProfile
	if profile == nil {
		return fmt.Errorf("job %s ran on elastic agent %s but has no elastic profile", job.Identifier.Key(), agent.UUID)
	}

	cfg := o.cfg.Get()
	var clusterConfig map[string]string
	if cluster := cfg.FindClusterProfile(profile.ClusterProfileID); cluster != nil {
		clusterConfig = cluster.Properties
	}

	msg := queue.JobCompletionMessage{
		PluginID:             agent.ElasticPluginID,
		ElasticAgentID:       agent.ElasticAgentID,
		JobIdentifier:        job.Identifier,
		ElasticProfileConfig: profile.Properties,
		ClusterProfileConfig: clusterConfig,
	}
	if _, err := o.poster.Post(ctx, queue.TopicJobCompletion, agent.ElasticPluginID, msg, cfg.Server.CompletionTTL); err != nil {
		return fmt.Errorf("post job completion for %s: %w", job.Identifier.Key(), err)
	}
	return nil
}

// PluginStatusReport fetches the plugin-level status report, if the plugin
// advertises support for it.
func (o *Orchestrator) PluginStatusReport(ctx context.Context, pluginID string) (string, error) {
	p, ok := o.plugins.Get(pluginID)
	if !ok {
		return "", fmt.Errorf("plugin %q is not registered", pluginID)
	}
	if !p.Capabilities.SupportsPluginStatusReport {
		return "", ErrPluginStatusReportUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Get().Server.PluginCallTimeout)
	defer cancel()
	return p.Endpoint.PluginStatusReport(ctx)
}

// AgentStatusReport fetches the report for one elastic agent, if the plugin
// advertises support for it.
func (o *Orchestrator) AgentStatusReport(ctx context.Context, pluginID, clusterProfileID, elasticAgentID string) (string, error) {
	p, ok := o.plugins.Get(pluginID)
	if !ok {
		return "", fmt.Errorf("plugin %q is not registered", pluginID)
	}
	if !p.Capabilities.SupportsAgentStatusReport {
		return "", ErrAgentStatusReportUnsupported
	}

	cfg := o.cfg.Get()
	var clusterConfig map[string]string
	if cluster := cfg.FindClusterProfile(clusterProfileID); cluster != nil {
		clusterConfig = cluster.Properties
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Server.PluginCallTimeout)
	defer cancel()
	return p.Endpoint.AgentStatusReport(ctx, clusterConfig, elasticAgentID)
}
