package models

import "time"

// TaskExecution is one run of a TaskType against a seed prompt. At most
// one TaskExecution per StoryRecord may be in a non-terminal status at a
// time (enforced by a partial unique index in the persistence layer).
type TaskExecution struct {
	ID          string     `json:"id"`
	StoryID     string     `json:"story_id"`
	TaskType    string     `json:"task_type"`
	Status      TaskStatus `json:"status"`
	CurrentStep int        `json:"current_step"`
	SeedPrompt  string     `json:"seed_prompt"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether this execution has reached a status from
// which the step engine will no longer advance it.
func (t TaskExecution) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// TaskExecutionStep is the persisted record of one step within a
// TaskExecution: the resolved prompt sent, the raw model output, and the
// step's outcome, kept so later steps' placeholder interpolation can
// read back any prior step's output or a summary of it.
type TaskExecutionStep struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	StepIndex     int        `json:"step_index"`
	StepName      string     `json:"step_name"`
	Status        StepStatus `json:"status"`
	ResolvedPrompt string    `json:"resolved_prompt"`
	Output        string     `json:"output"`
	Attempt       int        `json:"attempt"`
	ModelUsed     string     `json:"model_used"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
