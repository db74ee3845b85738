// Package inspect renders operator-facing reports over the state database:
// a dispatch overview and a per-job detail view.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/camber-cd/camber/internal/domain"
)

// Overview summarizes the state database.
type Overview struct {
	Pipelines []PipelineSummary `json:"pipelines"`
	Messages  []MessageSummary  `json:"messages"`
}

// PipelineSummary is the per-pipeline job-state breakdown.
type PipelineSummary struct {
	Pipeline  string `json:"pipeline"`
	Scheduled int    `json:"scheduled"`
	Assigned  int    `json:"assigned"`
	Completed int    `json:"completed"`
}

// MessageSummary is the per-plugin outbound-message breakdown.
type MessageSummary struct {
	PluginID  string `json:"plugin_id"`
	Pending   int    `json:"pending"`
	Delivered int    `json:"delivered"`
	Expired   int    `json:"expired"`
}

// JobDetail is everything recorded for one job instance.
type JobDetail struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	AgentUUID   string          `json:"agent_uuid,omitempty"`
	Plan        domain.JobPlan  `json:"plan"`
	Cause       json.RawMessage `json:"build_cause"`
	CreatedAt   string          `json:"created_at"`
	AssignedAt  string          `json:"assigned_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// BuildOverview gathers the dispatch overview from the database.
func BuildOverview(ctx context.Context, db *sql.DB) (*Overview, error) {
	o := &Overview{}

	rows, err := db.QueryContext(ctx, `
SELECT pipeline,
       SUM(CASE WHEN state = 'scheduled' THEN 1 ELSE 0 END),
       SUM(CASE WHEN state = 'assigned' THEN 1 ELSE 0 END),
       SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END)
FROM scheduled_jobs GROUP BY pipeline ORDER BY pipeline;
`)
	if err != nil {
		return nil, fmt.Errorf("query job summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s PipelineSummary
		if err := rows.Scan(&s.Pipeline, &s.Scheduled, &s.Assigned, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}
		o.Pipelines = append(o.Pipelines, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := db.QueryContext(ctx, `
SELECT plugin_id,
       SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
       SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END),
       SUM(CASE WHEN status = 'expired' THEN 1 ELSE 0 END)
FROM outbound_messages GROUP BY plugin_id ORDER BY plugin_id;
`)
	if err != nil {
		return nil, fmt.Errorf("query message summary: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var s MessageSummary
		if err := mrows.Scan(&s.PluginID, &s.Pending, &s.Delivered, &s.Expired); err != nil {
			return nil, fmt.Errorf("scan message summary: %w", err)
		}
		o.Messages = append(o.Messages, s)
	}
	return o, mrows.Err()
}

// BuildJobDetail loads everything recorded for one job instance by its key
// ("pipeline/counter/stage/stage-counter/job").
func BuildJobDetail(ctx context.Context, db *sql.DB, jobKey string) (*JobDetail, error) {
	if strings.TrimSpace(jobKey) == "" {
		return nil, fmt.Errorf("job key is required")
	}

	var (
		d                                  JobDetail
		planRaw, causeRaw                  string
		agentUUID, assignedAt, completedAt sql.NullString
	)
	row := db.QueryRowContext(ctx, `
SELECT id, state, agent_uuid, plan, build_cause, created_at, assigned_at, completed_at
FROM scheduled_jobs WHERE id = ?;
`, jobKey)
	if err := row.Scan(&d.ID, &d.State, &agentUUID, &planRaw, &causeRaw, &d.CreatedAt, &assignedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %q not found", jobKey)
		}
		return nil, fmt.Errorf("query job %q: %w", jobKey, err)
	}
	if err := json.Unmarshal([]byte(planRaw), &d.Plan); err != nil {
		return nil, fmt.Errorf("decode plan for %q: %w", jobKey, err)
	}
	d.Cause = json.RawMessage(causeRaw)
	d.AgentUUID = agentUUID.String
	d.AssignedAt = assignedAt.String
	d.CompletedAt = completedAt.String
	return &d, nil
}

// FormatOverview renders the overview for terminal output.
func FormatOverview(o *Overview) string {
	var out strings.Builder
	out.WriteString("Dispatch Overview\n\n")

	if len(o.Pipelines) == 0 {
		out.WriteString("No jobs scheduled.\n")
	} else {
		out.WriteString("Jobs by pipeline:\n")
		for _, p := range o.Pipelines {
			fmt.Fprintf(&out, "  %-24s scheduled=%d assigned=%d completed=%d\n",
				p.Pipeline, p.Scheduled, p.Assigned, p.Completed)
		}
	}

	out.WriteString("\n")
	if len(o.Messages) == 0 {
		out.WriteString("No outbound messages.\n")
	} else {
		out.WriteString("Outbound messages by plugin:\n")
		for _, m := range o.Messages {
			fmt.Fprintf(&out, "  %-24s pending=%d delivered=%d expired=%d\n",
				m.PluginID, m.Pending, m.Delivered, m.Expired)
		}
	}
	return out.String()
}

// FormatJobDetail renders a job detail for terminal output.
func FormatJobDetail(d *JobDetail) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Job         : %s\n", d.ID)
	fmt.Fprintf(&out, "State       : %s\n", d.State)
	fmt.Fprintf(&out, "Agent       : %s\n", renderUnset(d.AgentUUID, "<unassigned>"))
	fmt.Fprintf(&out, "Created     : %s\n", d.CreatedAt)
	fmt.Fprintf(&out, "Assigned    : %s\n", renderUnset(d.AssignedAt, "<never>"))
	fmt.Fprintf(&out, "Completed   : %s\n", renderUnset(d.CompletedAt, "<never>"))
	if d.Plan.RequiresElasticAgent() {
		fmt.Fprintf(&out, "Elastic     : profile=%s plugin=%s\n",
			d.Plan.ElasticProfile.ID, d.Plan.ElasticProfile.PluginID)
	} else if len(d.Plan.Resources) > 0 {
		fmt.Fprintf(&out, "Resources   : %s\n", strings.Join(d.Plan.Resources, ", "))
	}
	fmt.Fprintf(&out, "Cause       :\n")
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(d.Cause)), "\n") {
		fmt.Fprintf(&out, "  %s\n", line)
	}
	return out.String()
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
