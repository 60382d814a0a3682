// Package config loads, validates, and serves the orchestrator's static
// configuration: configured models, agents, task-type pipelines, and
// response-validation policies, plus queue and system-level defaults.
package config

import "github.com/storyforge/engine/pkg/models"

// Root is the top-level shape of the YAML configuration file before it
// is split into registries.
type Root struct {
	Defaults          Defaults                   `yaml:"defaults,omitempty"`
	Queue             QueueConfig                 `yaml:"queue,omitempty"`
	Models            []models.Model              `yaml:"models" validate:"required,min=1,dive"`
	Agents            []models.Agent              `yaml:"agents" validate:"required,min=1,dive"`
	TaskTypes         []models.TaskType           `yaml:"task_types" validate:"required,min=1,dive"`
	ValidationPolicies []models.ValidationPolicy  `yaml:"validation_policies,omitempty" validate:"omitempty,dive"`
}

// Config is the fully loaded and cross-validated configuration, exposed
// as registries rather than raw slices so the rest of the system never
// deals with linear scans or missing-key panics.
type Config struct {
	Defaults            Defaults
	Queue               QueueConfig
	Models              *ModelRegistry
	Agents              *AgentRegistry
	TaskTypes           *TaskTypeRegistry
	ValidationPolicies  *ValidationPolicyRegistry
}

// FromRoot builds registries from a parsed Root. Callers should run
// Validate on the Root first; FromRoot does not re-validate.
func FromRoot(root Root) *Config {
	return &Config{
		Defaults:           root.Defaults,
		Queue:              root.Queue,
		Models:             NewModelRegistry(root.Models),
		Agents:             NewAgentRegistry(root.Agents),
		TaskTypes:          NewTaskTypeRegistry(root.TaskTypes),
		ValidationPolicies: NewValidationPolicyRegistry(root.ValidationPolicies),
	}
}
