package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, and validates the YAML configuration file
// at path, returning ready-to-use registries.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	root := Root{
		Defaults: DefaultDefaults(),
		Queue:    DefaultQueueConfig(),
	}
	if err := yaml.Unmarshal(expanded, &root); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := FromRoot(root)
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, NewLoadError(path, err)
	}
	return cfg, nil
}
