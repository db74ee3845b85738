package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
)

type fakeJobSource struct {
	mu       sync.Mutex
	plans    []domain.JobPlan
	assigned map[string]string // job key -> agent uuid
	loadErr  error
	markErr  error
}

func newFakeJobSource(plans ...domain.JobPlan) *fakeJobSource {
	return &fakeJobSource{plans: plans, assigned: make(map[string]string)}
}

func (f *fakeJobSource) OrderedScheduledJobs(ctx context.Context) ([]domain.JobPlan, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobPlan, len(f.plans))
	copy(out, f.plans)
	return out, nil
}

func (f *fakeJobSource) MarkAssigned(ctx context.Context, id domain.JobIdentifier, agentUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.assigned[id.Key()] = agentUUID
	return nil
}

func (f *fakeJobSource) MarkScheduled(ctx context.Context, id domain.JobIdentifier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigned, id.Key())
	return nil
}

type fakeMaintenance struct{ on bool }

func (f *fakeMaintenance) IsMaintenanceMode() bool { return f.on }

type fakeAcceptor struct {
	mu     sync.Mutex
	answer bool
	calls  int
}

func (f *fakeAcceptor) ShouldAssignWork(agent domain.ElasticAgentMetadata, environment string, profile domain.ElasticProfile, job domain.JobIdentifier) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.answer
}

func testConfig(t *testing.T) *config.Store {
	t.Helper()
	cfg := config.Defaults()
	cfg.State.Path = "./t.db"
	cfg.ElasticProfiles = []config.ElasticProfileConf{
		{ID: "small", PluginID: "cd.go.docker"},
	}
	cfg.Pipelines = []config.PipelineConfig{
		{
			Name: "build",
			Stages: []config.StageConfig{
				{Name: "stage", Jobs: []config.JobConfig{
					{Name: "unit", Resources: []string{"linux"}},
					{Name: "lint"},
					{Name: "image", ElasticProfileID: "small"},
				}},
			},
		},
		{
			Name: "deploy",
			Stages: []config.StageConfig{
				{Name: "stage", Jobs: []config.JobConfig{{Name: "push"}}},
			},
		},
	}
	cfg.Environments = map[string][]string{"production": {"deploy"}}
	require.NoError(t, cfg.Validate())
	return config.NewStore(cfg)
}

func regularPlan(pipeline, job string, resources ...string) domain.JobPlan {
	return domain.JobPlan{
		Identifier: domain.JobIdentifier{
			PipelineName:    pipeline,
			PipelineCounter: 1,
			StageName:       "stage",
			StageCounter:    "1",
			JobName:         job,
		},
		Resources: resources,
	}
}

func elasticPlan(pipeline, job, pluginID string) domain.JobPlan {
	p := regularPlan(pipeline, job)
	p.ElasticProfile = &domain.ElasticProfile{ID: "small", PluginID: pluginID}
	return p
}

func TestRefreshDropsPlansRemovedFromConfig(t *testing.T) {
	src := newFakeJobSource(
		regularPlan("build", "unit", "linux"),
		regularPlan("build", "removed-job"),
		regularPlan("removed-pipeline", "x"),
	)
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})

	require.NoError(t, r.Refresh(context.Background()))
	plans := r.Snapshot()
	require.Len(t, plans, 1)
	assert.Equal(t, "unit", plans[0].Identifier.JobName)
}

func TestFindMatchingJobFirstEligibleInOrderWins(t *testing.T) {
	src := newFakeJobSource(
		regularPlan("build", "unit", "linux", "docker"), // needs docker the agent lacks
		regularPlan("build", "lint"),
	)
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	agent := domain.Agent{UUID: "a1", Resources: []string{"linux"}}
	plan := r.FindMatchingJob(context.Background(), agent)
	require.NotNil(t, plan)
	assert.Equal(t, "lint", plan.Identifier.JobName)

	// Matched plan is removed and its assignment persisted.
	assert.Equal(t, 1, r.Size())
	assert.Equal(t, "a1", src.assigned[plan.Identifier.Key()])
}

func TestFindMatchingJobEnvironmentRestriction(t *testing.T) {
	src := newFakeJobSource(regularPlan("deploy", "push"))
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	outside := domain.Agent{UUID: "a1"}
	assert.Nil(t, r.FindMatchingJob(context.Background(), outside))

	inside := domain.Agent{UUID: "a2", Environments: []string{"production"}}
	plan := r.FindMatchingJob(context.Background(), inside)
	require.NotNil(t, plan)
	assert.Equal(t, "push", plan.Identifier.JobName)
}

func TestFindMatchingJobElasticRules(t *testing.T) {
	t.Run("regular agent never takes elastic plan", func(t *testing.T) {
		src := newFakeJobSource(elasticPlan("build", "image", "cd.go.docker"))
		acceptor := &fakeAcceptor{answer: true}
		r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, acceptor)
		require.NoError(t, r.Refresh(context.Background()))

		assert.Nil(t, r.FindMatchingJob(context.Background(), domain.Agent{UUID: "a1", Resources: []string{"linux"}}))
		assert.Equal(t, 0, acceptor.calls)
	})

	t.Run("plugin mismatch skips acceptor", func(t *testing.T) {
		src := newFakeJobSource(elasticPlan("build", "image", "cd.go.docker"))
		acceptor := &fakeAcceptor{answer: true}
		r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, acceptor)
		require.NoError(t, r.Refresh(context.Background()))

		other := domain.Agent{UUID: "e1", ElasticPluginID: "cd.go.k8s", ElasticAgentID: "x"}
		assert.Nil(t, r.FindMatchingJob(context.Background(), other))
		assert.Equal(t, 0, acceptor.calls)
	})

	t.Run("acceptor decides for matching plugin", func(t *testing.T) {
		src := newFakeJobSource(elasticPlan("build", "image", "cd.go.docker"))
		acceptor := &fakeAcceptor{answer: false}
		r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, acceptor)
		require.NoError(t, r.Refresh(context.Background()))

		agent := domain.Agent{UUID: "e1", ElasticPluginID: "cd.go.docker", ElasticAgentID: "x"}
		assert.Nil(t, r.FindMatchingJob(context.Background(), agent))
		assert.Equal(t, 1, acceptor.calls)
		assert.Equal(t, 1, r.Size())

		acceptor.answer = true
		plan := r.FindMatchingJob(context.Background(), agent)
		require.NotNil(t, plan)
		assert.Equal(t, "image", plan.Identifier.JobName)
	})

	t.Run("elastic agent never takes regular plan", func(t *testing.T) {
		src := newFakeJobSource(regularPlan("build", "lint"))
		acceptor := &fakeAcceptor{answer: true}
		r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, acceptor)
		require.NoError(t, r.Refresh(context.Background()))

		agent := domain.Agent{UUID: "e1", ElasticPluginID: "cd.go.docker", ElasticAgentID: "x"}
		assert.Nil(t, r.FindMatchingJob(context.Background(), agent))
		assert.Equal(t, 0, acceptor.calls)
	})
}

func TestFindMatchingJobKeepsPlanWhenPersistFails(t *testing.T) {
	src := newFakeJobSource(regularPlan("build", "lint"))
	src.markErr = errors.New("database is locked")
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	agent := domain.Agent{UUID: "a1"}
	assert.Nil(t, r.FindMatchingJob(context.Background(), agent), "unpersisted assignment must not hand the plan out")
	assert.Equal(t, 1, r.Size())
	assert.Empty(t, src.assigned)

	// The write recovers; the same plan is handed out exactly once.
	src.markErr = nil
	plan := r.FindMatchingJob(context.Background(), agent)
	require.NotNil(t, plan)
	assert.Equal(t, "lint", plan.Identifier.JobName)
	assert.Equal(t, "a1", src.assigned[plan.Identifier.Key()])
	assert.Equal(t, 0, r.Size())
	assert.Nil(t, r.FindMatchingJob(context.Background(), agent))
}

func TestRestoreRevertsAssignmentAndRequeuesFirst(t *testing.T) {
	src := newFakeJobSource(
		regularPlan("build", "unit", "linux"),
		regularPlan("build", "lint"),
	)
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	agent := domain.Agent{UUID: "a1", Resources: []string{"linux"}}
	plan := r.FindMatchingJob(context.Background(), agent)
	require.NotNil(t, plan)
	require.Equal(t, "unit", plan.Identifier.JobName)

	r.Restore(context.Background(), *plan)
	assert.Empty(t, src.assigned)
	assert.Equal(t,
		[]string{"build/1/stage/1/unit", "build/1/stage/1/lint"},
		planKeys(r.Snapshot()),
		"restored plan goes back to the front of the queue")
}

func TestFindMatchingJobMaintenanceMode(t *testing.T) {
	src := newFakeJobSource(regularPlan("build", "lint"))
	maint := &fakeMaintenance{on: true}
	r := NewRegistry(src, testConfig(t), maint, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	assert.Nil(t, r.FindMatchingJob(context.Background(), domain.Agent{UUID: "a1"}))
	assert.Equal(t, 1, r.Size())

	maint.on = false
	assert.NotNil(t, r.FindMatchingJob(context.Background(), domain.Agent{UUID: "a1"}))
}

func TestFindMatchingJobConcurrentAgentsGetDistinctJobs(t *testing.T) {
	src := newFakeJobSource(regularPlan("build", "lint"))
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	const n = 32
	var wg sync.WaitGroup
	results := make([]*domain.JobPlan, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := domain.Agent{UUID: "a1"}
			results[i] = r.FindMatchingJob(context.Background(), agent)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, p := range results {
		if p != nil {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent poll may win the single plan")
	assert.Equal(t, 0, r.Size())
}

func TestPipelineConfigChangedRemovesVanishedPositions(t *testing.T) {
	src := newFakeJobSource(
		regularPlan("build", "unit", "linux"),
		regularPlan("build", "lint"),
		regularPlan("deploy", "push"),
	)
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	updated := config.PipelineConfig{
		Name: "build",
		Stages: []config.StageConfig{
			{Name: "stage", Jobs: []config.JobConfig{{Name: "unit", Resources: []string{"linux"}}}},
		},
	}
	r.PipelineConfigChanged(updated)

	keys := planKeys(r.Snapshot())
	assert.NotContains(t, keys, "build/1/stage/1/lint")
	assert.Contains(t, keys, "build/1/stage/1/unit")
	assert.Contains(t, keys, "deploy/1/stage/1/push")

	// Idempotent: applying the same definition again changes nothing.
	before := r.Size()
	r.PipelineConfigChanged(updated)
	assert.Equal(t, before, r.Size())
}

func TestPipelineDeletedRemovesAllItsPlans(t *testing.T) {
	src := newFakeJobSource(
		regularPlan("build", "unit", "linux"),
		regularPlan("deploy", "push"),
	)
	r := NewRegistry(src, testConfig(t), &fakeMaintenance{}, &fakeAcceptor{})
	require.NoError(t, r.Refresh(context.Background()))

	r.PipelineDeleted("build")

	keys := planKeys(r.Snapshot())
	require.Len(t, keys, 1)
	assert.Equal(t, "deploy/1/stage/1/push", keys[0])
}

func planKeys(plans []domain.JobPlan) []string {
	out := make([]string, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.Identifier.Key())
	}
	return out
}
