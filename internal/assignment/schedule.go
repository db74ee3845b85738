package assignment

import (
	"fmt"

	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/domain"
)

// BuildJobPlans instantiates job plans for a new run of the pipeline's first
// stage. Stage progression after completion is driven elsewhere; scheduling
// always starts a pipeline at its entry stage.
func BuildJobPlans(cfg *config.Config, p config.PipelineConfig, counter int) ([]domain.JobPlan, error) {
	if len(p.Stages) == 0 {
		return nil, fmt.Errorf("pipeline %q has no stages", p.Name)
	}

	stage := p.Stages[0]
	plans := make([]domain.JobPlan, 0, len(stage.Jobs))
	for _, job := range stage.Jobs {
		plan := domain.JobPlan{
			Identifier: domain.JobIdentifier{
				PipelineName:    p.Name,
				PipelineCounter: counter,
				StageName:       stage.Name,
				StageCounter:    "1",
				JobName:         job.Name,
			},
			Resources: job.Resources,
		}
		for _, v := range job.Variables {
			plan.Variables = append(plan.Variables, domain.EnvironmentVariable{
				Name:   v.Name,
				Value:  v.Value,
				Secure: v.Secure,
			})
		}

		if job.ElasticProfileID != "" {
			profile := cfg.FindElasticProfile(job.ElasticProfileID)
			if profile == nil {
				return nil, fmt.Errorf("job %q references unknown elastic profile %q", job.Name, job.ElasticProfileID)
			}
			plan.ElasticProfile = profile
			if profile.ClusterProfileID != "" {
				plan.ClusterProfile = cfg.FindClusterProfile(profile.ClusterProfileID)
			}
		}
		plans = append(plans, plan)
	}
	return plans, nil
}
