package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
	"github.com/camber-cd/camber/internal/storage"
)

type fakeJobStore struct {
	saved     []domain.JobPlan
	causes    []domain.BuildCause
	completed []string
	counter   int
	plans     map[string]domain.JobPlan
	saveErr   error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{counter: 1, plans: make(map[string]domain.JobPlan)}
}

func (f *fakeJobStore) Save(ctx context.Context, plan domain.JobPlan, cause domain.BuildCause) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, plan)
	f.causes = append(f.causes, cause)
	f.plans[plan.Identifier.Key()] = plan
	return nil
}

func (f *fakeJobStore) NextPipelineCounter(ctx context.Context, pipeline string) (int, error) {
	return f.counter, nil
}

func (f *fakeJobStore) PlanFor(ctx context.Context, id domain.JobIdentifier) (domain.JobPlan, error) {
	p, ok := f.plans[id.Key()]
	if !ok {
		return domain.JobPlan{}, storage.ErrJobNotFound
	}
	return p, nil
}

func (f *fakeJobStore) MarkCompleted(ctx context.Context, id domain.JobIdentifier) error {
	f.completed = append(f.completed, id.Key())
	return nil
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeNotifier struct {
	jobs []domain.JobInstance
	err  error
}

func (f *fakeNotifier) JobCompleted(ctx context.Context, job domain.JobInstance) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeMaintenance struct{ on bool }

func (f *fakeMaintenance) IsMaintenanceMode() bool { return f.on }

func serviceConfig(t *testing.T) *config.Store {
	t.Helper()
	cfg := config.Defaults()
	cfg.State.Path = "./t.db"
	cfg.ElasticProfiles = []config.ElasticProfileConf{{ID: "small", PluginID: "cd.go.docker"}}
	cfg.Pipelines = []config.PipelineConfig{
		{Name: "build", Stages: []config.StageConfig{
			{Name: "test", Jobs: []config.JobConfig{
				{Name: "unit", Resources: []string{"linux"}},
				{Name: "image", ElasticProfileID: "small"},
			}},
			{Name: "publish", Jobs: []config.JobConfig{{Name: "upload"}}},
		}},
	}
	require.NoError(t, cfg.Validate())
	return config.NewStore(cfg)
}

func TestSchedulePipelineCreatesEntryStageJobs(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.counter = 7
	refresher := &fakeRefresher{}
	svc := NewService(serviceConfig(t), jobs, refresher, &fakeNotifier{}, &fakeMaintenance{})

	cause := domain.BuildCause{TriggeredBy: "api", Revision: "abc123"}
	ids, err := svc.SchedulePipeline(context.Background(), "build", cause)
	require.NoError(t, err)

	// Only the entry stage is scheduled; later stages wait on its outcome.
	require.Len(t, ids, 2)
	assert.Equal(t, "build/7/test/1/unit", ids[0].Key())
	assert.Equal(t, "build/7/test/1/image", ids[1].Key())

	require.Len(t, jobs.saved, 2)
	assert.Equal(t, []string{"linux"}, jobs.saved[0].Resources)
	require.NotNil(t, jobs.saved[1].ElasticProfile)
	assert.Equal(t, "cd.go.docker", jobs.saved[1].ElasticProfile.PluginID)
	assert.Equal(t, cause, jobs.causes[0])
	assert.Equal(t, 1, refresher.calls)
}

func TestSchedulePipelineUnknownPipeline(t *testing.T) {
	svc := NewService(serviceConfig(t), newFakeJobStore(), &fakeRefresher{}, &fakeNotifier{}, &fakeMaintenance{})

	_, err := svc.SchedulePipeline(context.Background(), "nope", domain.BuildCause{TriggeredBy: "api"})
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestSchedulePipelineRefusedDuringMaintenance(t *testing.T) {
	jobs := newFakeJobStore()
	svc := NewService(serviceConfig(t), jobs, &fakeRefresher{}, &fakeNotifier{}, &fakeMaintenance{on: true})

	_, err := svc.SchedulePipeline(context.Background(), "build", domain.BuildCause{TriggeredBy: "api"})
	assert.ErrorIs(t, err, ErrMaintenanceMode)
	assert.Empty(t, jobs.saved)
}

func TestCompleteJobMarksAndNotifies(t *testing.T) {
	jobs := newFakeJobStore()
	notifier := &fakeNotifier{}
	svc := NewService(serviceConfig(t), jobs, &fakeRefresher{}, notifier, &fakeMaintenance{})

	ids, err := svc.SchedulePipeline(context.Background(), "build", domain.BuildCause{TriggeredBy: "api"})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteJob(context.Background(), ids[1], "e1"))

	assert.Equal(t, []string{ids[1].Key()}, jobs.completed)
	require.Len(t, notifier.jobs, 1)
	assert.Equal(t, "e1", notifier.jobs[0].AgentUUID)
	require.NotNil(t, notifier.jobs[0].Plan.ElasticProfile)
	assert.Equal(t, "cd.go.docker", notifier.jobs[0].Plan.ElasticProfile.PluginID)
}

func TestCompleteJobUnknownJob(t *testing.T) {
	svc := NewService(serviceConfig(t), newFakeJobStore(), &fakeRefresher{}, &fakeNotifier{}, &fakeMaintenance{})

	id := domain.JobIdentifier{PipelineName: "build", PipelineCounter: 1, StageName: "test", StageCounter: "1", JobName: "ghost"}
	err := svc.CompleteJob(context.Background(), id, "a1")
	assert.ErrorIs(t, err, storage.ErrJobNotFound)
}

func TestCompleteJobNotifierFailureSurfaces(t *testing.T) {
	jobs := newFakeJobStore()
	notifier := &fakeNotifier{err: errors.New("outbox unavailable")}
	svc := NewService(serviceConfig(t), jobs, &fakeRefresher{}, notifier, &fakeMaintenance{})

	ids, err := svc.SchedulePipeline(context.Background(), "build", domain.BuildCause{TriggeredBy: "api"})
	require.NoError(t, err)

	err = svc.CompleteJob(context.Background(), ids[0], "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox unavailable")
}
