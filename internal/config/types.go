package config

import (
	"time"

	"github.com/camber-cd/camber/internal/domain"
)

// Config represents the complete camber server configuration.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	State           StateConfig           `yaml:"state"`
	API             APIConfig             `yaml:"api,omitempty"`
	Environments    map[string][]string   `yaml:"environments,omitempty"` // environment name -> pipeline names
	ClusterProfiles []ClusterProfileConf  `yaml:"cluster_profiles,omitempty"`
	ElasticProfiles []ElasticProfileConf  `yaml:"elastic_profiles,omitempty"`
	Pipelines       []PipelineConfig      `yaml:"pipelines,omitempty"`
	Plugins         map[string]PluginConf `yaml:"plugins,omitempty"`
}

// ServerConfig defines core scheduling settings.
type ServerConfig struct {
	Name                string        `yaml:"name"`
	AutoRegisterKey     string        `yaml:"auto_register_key"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	StarvationThreshold time.Duration `yaml:"starvation_threshold"`
	PluginCallTimeout   time.Duration `yaml:"plugin_call_timeout"`
	CompletionTTL       time.Duration `yaml:"completion_ttl"`
	SecretsFile         string        `yaml:"secrets_file,omitempty"`
	LogLevel            string        `yaml:"log_level"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// PluginConf enables or disables an installed elastic-agent plugin.
type PluginConf struct {
	Enabled bool              `yaml:"enabled"`
	Config  map[string]string `yaml:"config,omitempty"`
}

// ClusterProfileConf is plugin configuration shared across elastic profiles.
type ClusterProfileConf struct {
	ID         string            `yaml:"id"`
	PluginID   string            `yaml:"plugin_id"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// ElasticProfileConf is per-job provisioning configuration for a plugin.
type ElasticProfileConf struct {
	ID               string            `yaml:"id"`
	PluginID         string            `yaml:"plugin_id"`
	ClusterProfileID string            `yaml:"cluster_profile_id,omitempty"`
	Properties       map[string]string `yaml:"properties,omitempty"`
}

// PipelineConfig defines a pipeline, its stages and their jobs.
type PipelineConfig struct {
	Name      string        `yaml:"name"`
	Variables []VariableDef `yaml:"variables,omitempty"`
	Stages    []StageConfig `yaml:"stages"`
}

// StageConfig defines a single pipeline stage.
type StageConfig struct {
	Name      string        `yaml:"name"`
	Variables []VariableDef `yaml:"variables,omitempty"`
	Jobs      []JobConfig   `yaml:"jobs"`
}

// JobConfig defines a single job within a stage.
type JobConfig struct {
	Name             string        `yaml:"name"`
	Resources        []string      `yaml:"resources,omitempty"`
	ElasticProfileID string        `yaml:"elastic_profile_id,omitempty"`
	Variables        []VariableDef `yaml:"variables,omitempty"`
}

// VariableDef declares an environment variable at pipeline, stage or job
// scope. Secure values may be secret references resolved at dispatch time.
type VariableDef struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Secure bool   `yaml:"secure,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:                "camber",
			TickInterval:        10 * time.Second,
			HeartbeatInterval:   60 * time.Second,
			StarvationThreshold: 2 * time.Minute,
			PluginCallTimeout:   10 * time.Second,
			CompletionTTL:       10 * time.Minute,
			LogLevel:            "info",
		},
		State: StateConfig{
			Path: "./data/camber.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8153",
		},
		Environments: make(map[string][]string),
		Plugins:      make(map[string]PluginConf),
	}
}

// HasPipeline reports whether a pipeline with the given name is configured.
func (c *Config) HasPipeline(name string) bool {
	return c.FindPipeline(name) != nil
}

// FindPipeline returns the named pipeline config, or nil.
func (c *Config) FindPipeline(name string) *PipelineConfig {
	for i := range c.Pipelines {
		if c.Pipelines[i].Name == name {
			return &c.Pipelines[i]
		}
	}
	return nil
}

// ContainsJob reports whether the pipeline still defines the given
// stage/job position.
func (c *Config) ContainsJob(pipeline, stage, job string) bool {
	p := c.FindPipeline(pipeline)
	if p == nil {
		return false
	}
	return p.ContainsJob(stage, job)
}

// ContainsJob reports whether the pipeline defines the given stage/job
// position.
func (p *PipelineConfig) ContainsJob(stage, job string) bool {
	for _, s := range p.Stages {
		if s.Name != stage {
			continue
		}
		for _, j := range s.Jobs {
			if j.Name == job {
				return true
			}
		}
	}
	return false
}

// FindStage returns the named stage, or nil.
func (p *PipelineConfig) FindStage(name string) *StageConfig {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// EnvironmentFor returns the environment the pipeline belongs to, or "" when
// the pipeline is unrestricted.
func (c *Config) EnvironmentFor(pipeline string) string {
	for env, pipelines := range c.Environments {
		for _, p := range pipelines {
			if p == pipeline {
				return env
			}
		}
	}
	return ""
}

// FindElasticProfile resolves an elastic profile by id, or nil.
func (c *Config) FindElasticProfile(id string) *domain.ElasticProfile {
	for _, ep := range c.ElasticProfiles {
		if ep.ID == id {
			return &domain.ElasticProfile{
				ID:               ep.ID,
				PluginID:         ep.PluginID,
				ClusterProfileID: ep.ClusterProfileID,
				Properties:       ep.Properties,
			}
		}
	}
	return nil
}

// FindClusterProfile resolves a cluster profile by id, or nil.
func (c *Config) FindClusterProfile(id string) *domain.ClusterProfile {
	for _, cp := range c.ClusterProfiles {
		if cp.ID == id {
			return &domain.ClusterProfile{
				ID:         cp.ID,
				PluginID:   cp.PluginID,
				Properties: cp.Properties,
			}
		}
	}
	return nil
}
