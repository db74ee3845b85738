package domain

import "fmt"

// JobIdentifier pins a scheduled job to a concrete pipeline run.
type JobIdentifier struct {
	PipelineName    string `json:"pipeline_name"`
	PipelineCounter int    `json:"pipeline_counter"`
	StageName       string `json:"stage_name"`
	StageCounter    string `json:"stage_counter"`
	JobName         string `json:"job_name"`
}

// Key uniquely identifies a job instance across pipeline runs.
func (ji JobIdentifier) Key() string {
	return fmt.Sprintf("%s/%d/%s/%s/%s", ji.PipelineName, ji.PipelineCounter, ji.StageName, ji.StageCounter, ji.JobName)
}

// ConfigKey identifies the job's position in pipeline configuration,
// independent of any particular run. Health states for unschedulable jobs are
// scoped by this value.
func (ji JobIdentifier) ConfigKey() string {
	return fmt.Sprintf("%s/%s/%s", ji.PipelineName, ji.StageName, ji.JobName)
}

func (ji JobIdentifier) String() string {
	return ji.Key()
}
