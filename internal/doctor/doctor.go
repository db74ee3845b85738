// Package doctor validates camber configuration beyond what the loader can
// reject: cross-references between pipelines, profiles and plugins, and
// timing settings that would starve or thrash the scheduler.
package doctor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camber-cd/camber/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServerConfig(r)
	d.validateAPIConfig(r)
	d.validateProfilePluginRefs(r)
	d.warnUnusedPlugins(r)
	d.warnUnusedProfiles(r)
	d.warnElasticWithoutPlugins(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServerConfig checks required server fields and timing sanity.
func (d *Doctor) validateServerConfig(r *Result) {
	s := d.cfg.Server
	if d.cfg.State.Path == "" {
		d.addError(r, "server", "state.path", "state.path is required")
	}
	if s.TickInterval <= 0 {
		d.addError(r, "server", "server.tick_interval", "tick_interval must be positive")
	}
	if s.HeartbeatInterval <= 10*time.Second {
		d.addError(r, "server", "server.heartbeat_interval",
			"heartbeat_interval must exceed 10s so ping messages outlive their delivery margin")
	}
	if s.StarvationThreshold <= 0 {
		d.addError(r, "server", "server.starvation_threshold", "starvation_threshold must be positive")
	}
	if s.TickInterval > 0 && s.StarvationThreshold > 0 && s.StarvationThreshold < s.TickInterval {
		d.addWarning(r, "server", "server.starvation_threshold",
			"starvation_threshold shorter than tick_interval makes every unassigned job look starving on each pass")
	}
	if s.PluginCallTimeout <= 0 {
		d.addError(r, "server", "server.plugin_call_timeout", "plugin_call_timeout must be positive")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.APIKey == "" {
		d.addWarning(r, "api", "api.api_key", "API enabled but no API key configured; all requests will be rejected")
	}
}

// validateProfilePluginRefs checks that profiles reference enabled plugins
// and that profile/cluster plugin ids agree.
func (d *Doctor) validateProfilePluginRefs(r *Result) {
	for i, ep := range d.cfg.ElasticProfiles {
		field := fmt.Sprintf("elastic_profiles[%d]", i)
		if !d.pluginEnabled(ep.PluginID) {
			d.addWarning(r, "profiles", field,
				fmt.Sprintf("elastic profile %q references plugin %q which is not enabled; its jobs will wait until the plugin registers", ep.ID, ep.PluginID))
		}
		if ep.ClusterProfileID == "" {
			continue
		}
		cp := d.cfg.FindClusterProfile(ep.ClusterProfileID)
		if cp == nil {
			d.addError(r, "profiles", field,
				fmt.Sprintf("elastic profile %q references unknown cluster profile %q", ep.ID, ep.ClusterProfileID))
			continue
		}
		if cp.PluginID != ep.PluginID {
			d.addError(r, "profiles", field,
				fmt.Sprintf("elastic profile %q (plugin %q) references cluster profile %q owned by plugin %q", ep.ID, ep.PluginID, cp.ID, cp.PluginID))
		}
	}
}

// warnUnusedPlugins flags enabled plugins no elastic profile references.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	for name, pc := range d.cfg.Plugins {
		if !pc.Enabled {
			continue
		}
		used := false
		for _, ep := range d.cfg.ElasticProfiles {
			if ep.PluginID == name {
				used = true
				break
			}
		}
		if !used {
			d.addWarning(r, "plugins", fmt.Sprintf("plugins.%s", name),
				fmt.Sprintf("plugin %q is enabled but no elastic profile uses it", name))
		}
	}
}

// warnUnusedProfiles flags elastic profiles no job references.
func (d *Doctor) warnUnusedProfiles(r *Result) {
	for _, ep := range d.cfg.ElasticProfiles {
		if d.profileUsed(ep.ID) {
			continue
		}
		d.addWarning(r, "profiles", fmt.Sprintf("elastic_profiles.%s", ep.ID),
			fmt.Sprintf("elastic profile %q is not referenced by any job", ep.ID))
	}
}

// warnElasticWithoutPlugins flags a config that schedules elastic jobs while
// no plugins are enabled at all.
func (d *Doctor) warnElasticWithoutPlugins(r *Result) {
	anyEnabled := false
	for _, pc := range d.cfg.Plugins {
		if pc.Enabled {
			anyEnabled = true
			break
		}
	}
	if anyEnabled {
		return
	}
	for _, p := range d.cfg.Pipelines {
		for _, s := range p.Stages {
			for _, j := range s.Jobs {
				if j.ElasticProfileID != "" {
					d.addWarning(r, "plugins", "plugins",
						fmt.Sprintf("job %s/%s/%s needs an elastic agent but no plugins are enabled", p.Name, s.Name, j.Name))
					return
				}
			}
		}
	}
}

func (d *Doctor) pluginEnabled(id string) bool {
	pc, ok := d.cfg.Plugins[id]
	return ok && pc.Enabled
}

func (d *Doctor) profileUsed(id string) bool {
	for _, p := range d.cfg.Pipelines {
		for _, s := range p.Stages {
			for _, j := range s.Jobs {
				if j.ElasticProfileID == id {
					return true
				}
			}
		}
	}
	return false
}

// FormatHuman renders the result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
