package models

// LLMBackend identifies the wire dialect a Model speaks.
type LLMBackend string

const (
	BackendOpenAI LLMBackend = "openai"
	BackendOllama LLMBackend = "ollama"
)

// TaskStatus tracks a TaskExecution through its lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// StepStatus tracks a single TaskExecutionStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StoryStatus tracks the review lifecycle of a StoryRecord.
type StoryStatus string

const (
	StoryDraft     StoryStatus = "draft"
	StoryEvaluated StoryStatus = "evaluated"
)

// MergeStrategy controls how a step template folds prior step output into
// the running story text.
type MergeStrategy string

const (
	MergeAccumulateChapters MergeStrategy = "accumulate_chapters"
	MergeLastOnly           MergeStrategy = "last_only"
)

// FallbackOutcome records how a chat-bridge call to a candidate model ended.
type FallbackOutcome string

const (
	FallbackSucceeded FallbackOutcome = "succeeded"
	FallbackRejected  FallbackOutcome = "rejected"
	FallbackErrored   FallbackOutcome = "errored"
)
