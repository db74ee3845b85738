package secret

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileResolver loads a YAML secrets file of the shape
//
//	config_id:
//	  key: value
//
// and resolves references against it. The file is read once at startup;
// rotating secrets requires a restart.
func FileResolver(path string) (Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var configs map[string]map[string]string
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}

	flat := make(map[string]string)
	for configID, kv := range configs {
		for key, value := range kv {
			flat[configID+"/"+key] = value
		}
	}
	return StaticResolver(flat), nil
}
