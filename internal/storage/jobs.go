// Package storage persists scheduled jobs and outbound plugin messages in
// SQLite. The job-plan registry is rebuilt from here on every refresh tick.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camber-cd/camber/internal/domain"
)

// Job states as persisted.
const (
	JobStateScheduled = "scheduled"
	JobStateAssigned  = "assigned"
	JobStateCompleted = "completed"
)

var ErrJobNotFound = errors.New("scheduled job not found")

// ScheduledJobStore reads and writes the scheduled_jobs table.
type ScheduledJobStore struct {
	db *sql.DB
}

func NewScheduledJobStore(db *sql.DB) *ScheduledJobStore {
	return &ScheduledJobStore{db: db}
}

// Save persists a freshly scheduled job plan. Saving the same job identity
// twice is an error; a job instance is scheduled at most once.
func (s *ScheduledJobStore) Save(ctx context.Context, plan domain.JobPlan, cause domain.BuildCause) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal job plan: %w", err)
	}
	causeJSON, err := json.Marshal(cause)
	if err != nil {
		return fmt.Errorf("marshal build cause: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scheduled_jobs(id, pipeline, pipeline_counter, stage, job, plan, build_cause, state, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, plan.Identifier.Key(), plan.Identifier.PipelineName, plan.Identifier.PipelineCounter,
		plan.Identifier.StageName, plan.Identifier.JobName, string(planJSON), string(causeJSON),
		JobStateScheduled, now)
	if err != nil {
		return fmt.Errorf("insert scheduled job: %w", err)
	}
	return nil
}

// OrderedScheduledJobs returns all jobs still awaiting an agent, in the order
// they were scheduled.
func (s *ScheduledJobStore) OrderedScheduledJobs(ctx context.Context) ([]domain.JobPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plan FROM scheduled_jobs WHERE state = ? ORDER BY rowid ASC;
`, JobStateScheduled)
	if err != nil {
		return nil, fmt.Errorf("query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var plans []domain.JobPlan
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		var plan domain.JobPlan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return nil, fmt.Errorf("decode job plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// MarkAssigned records that an agent picked the job up.
func (s *ScheduledJobStore) MarkAssigned(ctx context.Context, id domain.JobIdentifier, agentUUID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET state = ?, agent_uuid = ?, assigned_at = ? WHERE id = ? AND state = ?;
`, JobStateAssigned, agentUUID, now, id.Key(), JobStateScheduled)
	if err != nil {
		return fmt.Errorf("mark job assigned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkScheduled reverts an assigned job to the scheduled state, clearing the
// agent. Used when dispatch preparation fails after the assignment was
// recorded; the job becomes eligible for matching again.
func (s *ScheduledJobStore) MarkScheduled(ctx context.Context, id domain.JobIdentifier) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET state = ?, agent_uuid = NULL, assigned_at = NULL WHERE id = ? AND state = ?;
`, JobStateScheduled, id.Key(), JobStateAssigned)
	if err != nil {
		return fmt.Errorf("mark job scheduled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkCompleted records a terminal state for the job.
func (s *ScheduledJobStore) MarkCompleted(ctx context.Context, id domain.JobIdentifier) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET state = ?, completed_at = ? WHERE id = ?;
`, JobStateCompleted, now, id.Key())
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PlanFor loads the stored plan for a job instance regardless of state.
func (s *ScheduledJobStore) PlanFor(ctx context.Context, id domain.JobIdentifier) (domain.JobPlan, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT plan FROM scheduled_jobs WHERE id = ?;
`, id.Key()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobPlan{}, ErrJobNotFound
	}
	if err != nil {
		return domain.JobPlan{}, fmt.Errorf("load job plan: %w", err)
	}
	var plan domain.JobPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return domain.JobPlan{}, fmt.Errorf("decode job plan: %w", err)
	}
	return plan, nil
}

// BuildCauseFor loads the build cause recorded when the pipeline run was
// scheduled.
func (s *ScheduledJobStore) BuildCauseFor(ctx context.Context, pipeline string, counter int) (domain.BuildCause, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT build_cause FROM scheduled_jobs WHERE pipeline = ? AND pipeline_counter = ? LIMIT 1;
`, pipeline, counter).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BuildCause{}, ErrJobNotFound
	}
	if err != nil {
		return domain.BuildCause{}, fmt.Errorf("load build cause: %w", err)
	}
	var cause domain.BuildCause
	if err := json.Unmarshal([]byte(raw), &cause); err != nil {
		return domain.BuildCause{}, fmt.Errorf("decode build cause: %w", err)
	}
	return cause, nil
}

// NextPipelineCounter returns the next run counter for a pipeline.
func (s *ScheduledJobStore) NextPipelineCounter(ctx context.Context, pipeline string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT MAX(pipeline_counter) FROM scheduled_jobs WHERE pipeline = ?;
`, pipeline).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query pipeline counter: %w", err)
	}
	return int(max.Int64) + 1, nil
}
