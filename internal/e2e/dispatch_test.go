// Package e2e exercises the full dispatch flow against a real state database:
// schedule a pipeline, provision an elastic agent, poll for work and report
// completion.
package e2e

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camber-cd/camber/internal/agent"
	"github.com/camber-cd/camber/internal/assignment"
	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/dispatch"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/elastic"
	"github.com/camber-cd/camber/internal/events"
	"github.com/camber-cd/camber/internal/health"
	"github.com/camber-cd/camber/internal/inspect"
	"github.com/camber-cd/camber/internal/maintenance"
	"github.com/camber-cd/camber/internal/plugin"
	"github.com/camber-cd/camber/internal/queue"
	"github.com/camber-cd/camber/internal/scheduler"
	"github.com/camber-cd/camber/internal/secret"
	"github.com/camber-cd/camber/internal/storage"
)

// scriptedEndpoint is a plugin endpoint that records every capability call.
type scriptedEndpoint struct {
	mu          sync.Mutex
	created     []domain.JobIdentifier
	completions []string
	pings       int
}

func (s *scriptedEndpoint) ShouldAssignWork(ctx context.Context, agent domain.ElasticAgentMetadata, environment string, profile domain.ElasticProfile, job domain.JobIdentifier) (bool, error) {
	return true, nil
}

func (s *scriptedEndpoint) CreateAgent(ctx context.Context, autoRegisterKey, environment string, configuration map[string]string, job domain.JobIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, job)
	return nil
}

func (s *scriptedEndpoint) ServerPing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *scriptedEndpoint) ReportJobCompletion(ctx context.Context, elasticAgentID string, job domain.JobIdentifier, profileConfig, clusterConfig map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, elasticAgentID)
	return nil
}

func (s *scriptedEndpoint) PluginStatusReport(ctx context.Context) (string, error) { return "", nil }

func (s *scriptedEndpoint) AgentStatusReport(ctx context.Context, clusterConfig map[string]string, elasticAgentID string) (string, error) {
	return "", nil
}

func (s *scriptedEndpoint) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *scriptedEndpoint) completionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completions)
}

type world struct {
	cfg       *config.Store
	agents    *agent.Registry
	jobs      *storage.ScheduledJobStore
	registry  *assignment.Registry
	assigner  *assignment.Assigner
	service   *dispatch.Service
	scheduler *scheduler.Scheduler
	reporter  *health.Reporter
	maint     *maintenance.Service
	plugins   *plugin.Registry
	endpoint  *scriptedEndpoint
	dbPath    string
}

func newWorld(t *testing.T) *world {
	t.Helper()

	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Server.AutoRegisterKey = "ark-e2e"
	cfg.ClusterProfiles = []config.ClusterProfileConf{
		{ID: "cluster-1", PluginID: "cd.go.docker", Properties: map[string]string{"go_server_url": "https://camber:8153"}},
	}
	cfg.ElasticProfiles = []config.ElasticProfileConf{
		{ID: "small", PluginID: "cd.go.docker", ClusterProfileID: "cluster-1", Properties: map[string]string{"image": "alpine:3.20"}},
	}
	cfg.Pipelines = []config.PipelineConfig{
		{Name: "build", Stages: []config.StageConfig{
			{Name: "stage", Jobs: []config.JobConfig{
				{Name: "unit", Resources: []string{"linux"}},
				{Name: "image", ElasticProfileID: "small"},
			}},
		}},
	}
	require.NoError(t, cfg.Validate())
	store := config.NewStore(cfg)

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub(64)
	reporter := health.NewReporter(hub)
	maint := maintenance.NewService(hub)
	jobs := storage.NewScheduledJobStore(db)
	outbox := queue.NewOutbox(db)

	endpoint := &scriptedEndpoint{}
	plugins := plugin.NewRegistry()
	plugins.Register(plugin.Registered{ID: "cd.go.docker", Endpoint: endpoint})

	agents := agent.NewRegistry(cfg.Server.AutoRegisterKey)
	orchestrator := elastic.NewOrchestrator(plugins, agents, store, outbox, reporter)
	registry := assignment.NewRegistry(jobs, store, maint, orchestrator)
	assigner := assignment.NewAssigner(agents, registry, jobs, store, secret.StaticResolver(nil))
	service := dispatch.NewService(store, jobs, registry, orchestrator, maint)
	sched := scheduler.New(store, registry, orchestrator, maint, nil, hub)

	deliverer := dispatch.New(outbox, plugins)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = deliverer.Start(ctx) }()

	return &world{
		cfg:       store,
		agents:    agents,
		jobs:      jobs,
		registry:  registry,
		assigner:  assigner,
		service:   service,
		scheduler: sched,
		reporter:  reporter,
		maint:     maint,
		plugins:   plugins,
		endpoint:  endpoint,
		dbPath:    cfg.State.Path,
	}
}

func TestScheduleAssignCompleteFlow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	ids, err := w.service.SchedulePipeline(ctx, "build", domain.BuildCause{TriggeredBy: "e2e", Revision: "abc123"})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// The scheduling pass requests an elastic agent for the image job and the
	// delivery loop hands the request to the plugin.
	w.scheduler.Tick(ctx)
	require.Eventually(t, func() bool { return w.endpoint.createdCount() == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "image", w.endpoint.created[0].JobName)

	// A regular agent takes the unit job.
	require.NoError(t, w.agents.Register(domain.Agent{UUID: "a1", Resources: []string{"linux"}}, ""))
	work, err := w.assigner.AssignWorkToAgent(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, "unit", work.Plan.Identifier.JobName)
	assert.Equal(t, "abc123", work.Cause.Revision)

	// The plugin-provisioned agent registers with the auto-register key and
	// takes the elastic job.
	require.NoError(t, w.agents.Register(domain.Agent{
		UUID:            "e1",
		ElasticPluginID: "cd.go.docker",
		ElasticAgentID:  "i-1",
	}, "ark-e2e"))
	elasticWork, err := w.assigner.AssignWorkToAgent(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, elasticWork)
	assert.Equal(t, "image", elasticWork.Plan.Identifier.JobName)

	// Nothing left to hand out.
	none, err := w.assigner.AssignWorkToAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, none)

	// Completion of the elastic job notifies the plugin so the agent can be
	// reclaimed.
	require.NoError(t, w.service.CompleteJob(ctx, elasticWork.Plan.Identifier, "e1"))
	require.Eventually(t, func() bool { return w.endpoint.completionCount() == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"i-1"}, w.endpoint.completions)

	require.NoError(t, w.service.CompleteJob(ctx, work.Plan.Identifier, "a1"))

	// State database reflects the run.
	db, err := storage.OpenSQLite(ctx, w.dbPath)
	require.NoError(t, err)
	defer db.Close()
	overview, err := inspect.BuildOverview(ctx, db)
	require.NoError(t, err)
	require.Len(t, overview.Pipelines, 1)
	assert.Equal(t, 2, overview.Pipelines[0].Completed)

	assert.Empty(t, w.reporter.States())
}

func TestMaintenanceModeBlocksFlow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	ids, err := w.service.SchedulePipeline(ctx, "build", domain.BuildCause{TriggeredBy: "e2e"})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	w.maint.Enable()

	// Scheduling new runs is refused and polling agents get nothing.
	_, err = w.service.SchedulePipeline(ctx, "build", domain.BuildCause{TriggeredBy: "e2e"})
	assert.ErrorIs(t, err, dispatch.ErrMaintenanceMode)

	require.NoError(t, w.agents.Register(domain.Agent{UUID: "a1", Resources: []string{"linux"}}, ""))
	work, err := w.assigner.AssignWorkToAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, work)

	// Disabling resumes assignment of the already scheduled jobs.
	w.maint.Disable()
	work, err = w.assigner.AssignWorkToAgent(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, "unit", work.Plan.Identifier.JobName)
}

func TestMissingPluginSurfacesHealthMessage(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	// Pull the plugin out from under the configured profile.
	w.plugins.Deregister("cd.go.docker")

	_, err := w.service.SchedulePipeline(ctx, "build", domain.BuildCause{TriggeredBy: "e2e"})
	require.NoError(t, err)
	w.scheduler.Tick(ctx)

	states := w.reporter.States()
	require.Len(t, states, 1)
	assert.Equal(t, "build/stage/image", states[0].Scope)
	assert.Equal(t, health.LevelError, states[0].Level)
	assert.Contains(t, states[0].Message, "Unable to find agent for build/stage/image")
	assert.Contains(t, states[0].Description, "Plugin [cd.go.docker]")
}
