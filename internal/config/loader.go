package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a camber configuration file. Values are applied on
// top of Defaults; ${VAR} references in the file are expanded from the
// process environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-references and required fields.
func (c *Config) Validate() error {
	if c.Server.TickInterval <= 0 {
		return fmt.Errorf("server.tick_interval must be positive")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive")
	}
	if c.Server.StarvationThreshold < 0 {
		return fmt.Errorf("server.starvation_threshold must not be negative")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	clusterIDs := make(map[string]bool, len(c.ClusterProfiles))
	for _, cp := range c.ClusterProfiles {
		if cp.ID == "" || cp.PluginID == "" {
			return fmt.Errorf("cluster profile needs id and plugin_id")
		}
		if clusterIDs[cp.ID] {
			return fmt.Errorf("duplicate cluster profile %q", cp.ID)
		}
		clusterIDs[cp.ID] = true
	}

	elasticIDs := make(map[string]bool, len(c.ElasticProfiles))
	for _, ep := range c.ElasticProfiles {
		if ep.ID == "" || ep.PluginID == "" {
			return fmt.Errorf("elastic profile needs id and plugin_id")
		}
		if elasticIDs[ep.ID] {
			return fmt.Errorf("duplicate elastic profile %q", ep.ID)
		}
		elasticIDs[ep.ID] = true
		if ep.ClusterProfileID != "" && !clusterIDs[ep.ClusterProfileID] {
			return fmt.Errorf("elastic profile %q references unknown cluster profile %q", ep.ID, ep.ClusterProfileID)
		}
	}

	pipelineNames := make(map[string]bool, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline without a name")
		}
		if pipelineNames[p.Name] {
			return fmt.Errorf("duplicate pipeline %q", p.Name)
		}
		pipelineNames[p.Name] = true
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipeline %q has no stages", p.Name)
		}
		for _, s := range p.Stages {
			if len(s.Jobs) == 0 {
				return fmt.Errorf("pipeline %q stage %q has no jobs", p.Name, s.Name)
			}
			for _, j := range s.Jobs {
				if j.ElasticProfileID != "" && !elasticIDs[j.ElasticProfileID] {
					return fmt.Errorf("pipeline %q job %q references unknown elastic profile %q", p.Name, j.Name, j.ElasticProfileID)
				}
				if j.ElasticProfileID != "" && len(j.Resources) > 0 {
					return fmt.Errorf("pipeline %q job %q cannot declare both resources and an elastic profile", p.Name, j.Name)
				}
			}
		}
	}

	for env, pipelines := range c.Environments {
		for _, p := range pipelines {
			if !pipelineNames[p] {
				return fmt.Errorf("environment %q references unknown pipeline %q", env, p)
			}
		}
	}
	return nil
}
