package models

// Agent binds a role (writer, evaluator, summarizer, ...) to a ranked list
// of candidate models. FallbackController walks Models in order until one
// produces a response the validator accepts.
type Agent struct {
	Name         string   `yaml:"name" json:"name" validate:"required"`
	Role         string   `yaml:"role" json:"role" validate:"required"`
	Models       []string `yaml:"models" json:"models" validate:"required,min=1,dive,required"`
	SystemPrompt string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ToolNames    []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// UsesTools reports whether this agent's ReAct sub-loop should be armed
// with a tool registry at all.
func (a Agent) UsesTools() bool {
	return len(a.ToolNames) > 0
}
