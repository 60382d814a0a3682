package models

// StepTemplate is one ordinal step of a TaskType's pipeline: a prompt
// template (with {{STEP_k}}-style placeholders resolved against prior
// step output before the call) run against a named agent.
type StepTemplate struct {
	Index          int           `yaml:"index" json:"index" validate:"min=0"`
	Name           string        `yaml:"name" json:"name" validate:"required"`
	AgentName      string        `yaml:"agent" json:"agent" validate:"required"`
	PromptTemplate string        `yaml:"prompt_template" json:"prompt_template" validate:"required"`
	Merge          MergeStrategy `yaml:"merge" json:"merge" validate:"required,oneof=accumulate_chapters last_only"`
	MinOutputChars int           `yaml:"min_output_chars,omitempty" json:"min_output_chars,omitempty" validate:"omitempty,min=1"`
	MaxRetries     int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"omitempty,min=0"`

	// IsCharactersStep marks this step's output as the story's character
	// roster, persisted as a side effect once the step completes.
	IsCharactersStep bool `yaml:"characters_step,omitempty" json:"characters_step,omitempty"`
	// IsEvaluationStep marks this step's output as evaluator JSON,
	// spawning an evaluation pass once the step completes.
	IsEvaluationStep bool `yaml:"evaluation_step,omitempty" json:"evaluation_step,omitempty"`
	// IsFullStoryStep marks this step as the one whose merged output
	// materializes the assembled story content.
	IsFullStoryStep bool `yaml:"full_story_step,omitempty" json:"full_story_step,omitempty"`
}

// TaskType is a named, ordered sequence of StepTemplates: a recipe for
// producing one StoryRecord from a seed prompt.
type TaskType struct {
	Name  string         `yaml:"name" json:"name" validate:"required"`
	Steps []StepTemplate `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// StepAt returns the template for the given zero-based step index, or
// false if the task type has no such step.
func (t TaskType) StepAt(index int) (StepTemplate, bool) {
	for _, s := range t.Steps {
		if s.Index == index {
			return s, true
		}
	}
	return StepTemplate{}, false
}
