package config

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Fingerprint computes a stable BLAKE3 digest of a pipeline definition.
// Reconciliation compares fingerprints across config reloads to decide which
// pipelines actually changed.
func (p *PipelineConfig) Fingerprint() (string, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline %q: %w", p.Name, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// PipelineFingerprints maps every configured pipeline to its fingerprint.
func (c *Config) PipelineFingerprints() (map[string]string, error) {
	out := make(map[string]string, len(c.Pipelines))
	for i := range c.Pipelines {
		fp, err := c.Pipelines[i].Fingerprint()
		if err != nil {
			return nil, err
		}
		out[c.Pipelines[i].Name] = fp
	}
	return out, nil
}

// Diff compares two configurations and returns the pipelines whose definition
// changed in next, plus the names of pipelines deleted from it. Pipelines new
// in next are reported as changed; reconciliation treats them the same way.
func Diff(prev, next *Config) (changed []PipelineConfig, deleted []string, err error) {
	prevFPs, err := prev.PipelineFingerprints()
	if err != nil {
		return nil, nil, err
	}
	nextFPs, err := next.PipelineFingerprints()
	if err != nil {
		return nil, nil, err
	}

	for i := range next.Pipelines {
		name := next.Pipelines[i].Name
		if prevFPs[name] != nextFPs[name] {
			changed = append(changed, next.Pipelines[i])
		}
	}
	for name := range prevFPs {
		if _, ok := nextFPs[name]; !ok {
			deleted = append(deleted, name)
		}
	}
	return changed, deleted, nil
}
