package config

import (
	"fmt"

	playvalidator "github.com/go-playground/validator/v10"
)

// Validator runs struct-tag validation followed by ordered
// cross-reference checks (an agent referencing an unknown model, a step
// template referencing an unknown agent, and so on) against a fully
// parsed configuration. ValidateAll stops at the first failing phase so
// a caller never sees a cross-reference error caused by a struct that
// itself failed basic validation.
type Validator struct {
	cfg *Config
	v   *playvalidator.Validate
}

// NewValidator builds a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: playvalidator.New()}
}

// ValidateAll runs every validation phase in order, returning the first
// error encountered.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateModels(); err != nil {
		return err
	}
	if err := v.validateAgents(); err != nil {
		return err
	}
	if err := v.validateTaskTypes(); err != nil {
		return err
	}
	if err := v.validateValidationPolicies(); err != nil {
		return err
	}
	if err := v.validateDefaults(); err != nil {
		return err
	}
	return nil
}

// validateDefaults checks that the configured summarizer agent, if any,
// resolves to a configured agent — the step engine has no fallback for
// an unresolvable summarizer.
func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.SummarizerAgentName != "" && !v.cfg.Agents.Has(d.SummarizerAgentName) {
		return NewValidationError("defaults", "", "summarizer_agent",
			fmt.Errorf("%w: %q", ErrInvalidReference, d.SummarizerAgentName))
	}
	if d.FactExtractorAgentName != "" && !v.cfg.Agents.Has(d.FactExtractorAgentName) {
		return NewValidationError("defaults", "", "fact_extractor_agent",
			fmt.Errorf("%w: %q", ErrInvalidReference, d.FactExtractorAgentName))
	}
	if d.CoherenceJudgeAgentName != "" && !v.cfg.Agents.Has(d.CoherenceJudgeAgentName) {
		return NewValidationError("defaults", "", "coherence_judge_agent",
			fmt.Errorf("%w: %q", ErrInvalidReference, d.CoherenceJudgeAgentName))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return NewValidationError("queue", "", "worker_count",
			fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount))
	}
	if q.MaxConcurrentTasks < 1 {
		return NewValidationError("queue", "", "max_concurrent_tasks",
			fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", q.MaxConcurrentTasks))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "", "poll_interval",
			fmt.Errorf("poll_interval must be positive, got %s", q.PollInterval))
	}
	if q.PollIntervalJitter < 0 {
		return NewValidationError("queue", "", "poll_interval_jitter",
			fmt.Errorf("poll_interval_jitter must be non-negative, got %s", q.PollIntervalJitter))
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "", "poll_interval_jitter",
			fmt.Errorf("poll_interval_jitter must be less than poll_interval"))
	}
	if q.TaskTimeout <= 0 {
		return NewValidationError("queue", "", "task_timeout",
			fmt.Errorf("task_timeout must be positive, got %s", q.TaskTimeout))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "", "graceful_shutdown_timeout",
			fmt.Errorf("graceful_shutdown_timeout must be positive, got %s", q.GracefulShutdownTimeout))
	}
	return nil
}

func (v *Validator) validateModels() error {
	if v.cfg.Models.Len() == 0 {
		return NewValidationError("model", "", "", fmt.Errorf("at least one model must be configured"))
	}
	for _, m := range v.cfg.Models.All() {
		if err := v.v.Struct(m); err != nil {
			return NewValidationError("model", m.Name, "", err)
		}
	}
	return nil
}

// validateAgents checks struct validity and that every model referenced
// by an agent is a configured model.
func (v *Validator) validateAgents() error {
	if v.cfg.Agents.Len() == 0 {
		return NewValidationError("agent", "", "", fmt.Errorf("at least one agent must be configured"))
	}
	for _, a := range v.cfg.Agents.All() {
		if err := v.v.Struct(a); err != nil {
			return NewValidationError("agent", a.Name, "", err)
		}
		for _, modelName := range a.Models {
			if !v.cfg.Models.Has(modelName) {
				return NewValidationError("agent", a.Name, "models",
					fmt.Errorf("%w: %q", ErrInvalidReference, modelName))
			}
		}
	}
	return nil
}

// validateTaskTypes checks struct validity and that every step template
// references a configured agent, with contiguous zero-based step
// indices.
func (v *Validator) validateTaskTypes() error {
	if v.cfg.TaskTypes.Len() == 0 {
		return NewValidationError("task_type", "", "", fmt.Errorf("at least one task type must be configured"))
	}
	for _, t := range v.cfg.TaskTypes.All() {
		if err := v.v.Struct(t); err != nil {
			return NewValidationError("task_type", t.Name, "", err)
		}
		for i, step := range t.Steps {
			if step.Index != i {
				return NewValidationError("task_type", t.Name, "steps",
					fmt.Errorf("step indices must be contiguous starting at 0, got %d at position %d", step.Index, i))
			}
			if !v.cfg.Agents.Has(step.AgentName) {
				return NewValidationError("task_type", t.Name, "steps",
					fmt.Errorf("%w: agent %q", ErrInvalidReference, step.AgentName))
			}
		}
	}
	return nil
}

// validateValidationPolicies checks that every configured judge agent
// reference resolves to a configured agent.
func (v *Validator) validateValidationPolicies() error {
	for _, p := range v.cfg.ValidationPolicies.All() {
		if err := v.v.Struct(p); err != nil {
			return NewValidationError("validation_policy", p.OperationKey, "", err)
		}
		if p.JudgeAgentName != "" && !v.cfg.Agents.Has(p.JudgeAgentName) {
			return NewValidationError("validation_policy", p.OperationKey, "judge_agent",
				fmt.Errorf("%w: %q", ErrInvalidReference, p.JudgeAgentName))
		}
	}
	return nil
}
