package priority

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides maps a deployment environment to per-service priority
// overrides, e.g. demoting redis to optional in staging.
type Overrides map[string]map[string]Priority

type overridesFile struct {
	Environments map[string]map[string]string `yaml:"environments"`
}

// LoadOverrides parses the overrides YAML file:
//
//	environments:
//	  staging:
//	    redis: optional
//
// An empty path yields nil overrides without error.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}
	var file overridesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse overrides file %s: %w", path, err)
	}
	overrides := make(Overrides, len(file.Environments))
	for env, services := range file.Environments {
		tier := make(map[string]Priority, len(services))
		for name, value := range services {
			p, err := Parse(value)
			if err != nil {
				return nil, fmt.Errorf("overrides file %s: environment %s: service %s: %w", path, env, name, err)
			}
			tier[name] = p
		}
		overrides[env] = tier
	}
	return overrides, nil
}
