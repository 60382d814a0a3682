// Package stepengine drives one TaskExecution through its TaskType's
// ordered StepTemplate sequence: resolving each step's prompt against
// prior step output, invoking the agent (through the tool-call sub-loop
// when the agent is armed with tools, or the validator/fallback path
// directly otherwise), merging the result into the story, and applying
// the per-step side effects (characters roster, evaluation pass, full
// story materialization). Grounded on the teacher's
// pkg/workflow/orchestrator.go ordered-stage-execution loop, generalized
// from a fixed investigation pipeline to an arbitrary YAML-configured
// step sequence.
package stepengine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// TaskExecutionStore is the subset of repository.TaskExecutionRepository
// the engine depends on.
type TaskExecutionStore interface {
	StepOutputReader
	Get(ctx context.Context, id string) (models.TaskExecution, error)
	AdvanceStep(ctx context.Context, id string, step int, status models.TaskStatus) error
	Complete(ctx context.Context, id string, status models.TaskStatus, errMsg string) error
	CreateStep(ctx context.Context, step models.TaskExecutionStep) (models.TaskExecutionStep, error)
	UpdateStep(ctx context.Context, id string, status models.StepStatus, output, errMsg string) error
}

// StoryStore is the subset of repository.StoryRepository the engine
// depends on to merge step output into the story being assembled.
type StoryStore interface {
	AppendContent(ctx context.Context, id, newText string, strategy models.MergeStrategy) error
	SetCharacters(ctx context.Context, id, characters string) error
}

// EvaluationRunner is invoked for a step flagged IsEvaluationStep, with
// the step's raw output (expected to be evaluator JSON). Implemented by
// pkg/evaluation; kept as an interface here so the engine does not
// depend on that package's internals.
type EvaluationRunner interface {
	Evaluate(oc opctx.Context, storyID, evaluatorOutput string) error
}

// StepCaller is the subset of validator.Validator the engine depends on
// for steps whose agent is not armed with tools.
type StepCaller interface {
	CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error)
}

// ToolLooper is the subset of react.Loop the engine depends on for
// steps whose agent is armed with tools.
type ToolLooper interface {
	Run(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, []models.ConversationMessage, error)
}

// Engine drives TaskExecutions through their configured step sequence.
type Engine struct {
	tasks               TaskExecutionStore
	stories             StoryStore
	agents              *config.AgentRegistry
	taskTypes           *config.TaskTypeRegistry
	caller              StepCaller
	loop                ToolLooper
	summarizerAgentName string
	evaluator           EvaluationRunner

	mu      sync.Mutex
	adopted map[string]map[string]string // taskID -> agentName -> adopted model name
}

// New builds an Engine. loop and evaluator may be nil if the deployment
// runs no tool-using agents or no evaluation steps.
func New(tasks TaskExecutionStore, stories StoryStore, agents *config.AgentRegistry, taskTypes *config.TaskTypeRegistry, caller StepCaller, loop ToolLooper, summarizerAgentName string, evaluator EvaluationRunner) *Engine {
	return &Engine{
		tasks:               tasks,
		stories:             stories,
		agents:              agents,
		taskTypes:           taskTypes,
		caller:              caller,
		loop:                loop,
		summarizerAgentName: summarizerAgentName,
		evaluator:           evaluator,
	}
}

// RunTask drives taskID through every remaining step of its TaskType,
// starting from its persisted CurrentStep, until every step completes or
// one fails terminally. A terminal step failure transitions the
// TaskExecution to failed with the error recorded; the engine never
// retries a whole task, only a step's own bounded attempt budget.
func (e *Engine) RunTask(oc opctx.Context, taskID string) error {
	task, err := e.tasks.Get(oc.Std(), taskID)
	if err != nil {
		return fmt.Errorf("step engine: load task %s: %w", taskID, err)
	}
	taskType, ok := e.taskTypes.Get(task.TaskType)
	if !ok {
		err := fmt.Errorf("step engine: task type %q not configured", task.TaskType)
		_ = e.tasks.Complete(oc.Std(), taskID, models.TaskFailed, err.Error())
		return err
	}

	steps := append([]models.StepTemplate{}, taskType.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	resolver := NewPlaceholderResolver(e.tasks, e.summarize, taskID)

	for _, step := range steps {
		if step.Index < task.CurrentStep {
			continue
		}
		taskOC := oc
		taskOC.TaskID = taskID

		if err := e.runStep(taskOC, task, step, resolver); err != nil {
			_ = e.tasks.Complete(oc.Std(), taskID, models.TaskFailed, err.Error())
			return err
		}
		task.CurrentStep = step.Index + 1
		if err := e.tasks.AdvanceStep(oc.Std(), taskID, task.CurrentStep, models.TaskRunning); err != nil {
			return fmt.Errorf("step engine: advance task %s past step %d: %w", taskID, step.Index, err)
		}
	}

	if err := e.tasks.Complete(oc.Std(), taskID, models.TaskCompleted, ""); err != nil {
		return fmt.Errorf("step engine: complete task %s: %w", taskID, err)
	}
	return nil
}

// runStep executes one step to completion, including its own
// MinOutputChars retry budget, persists the TaskExecutionStep row for
// every attempt, and applies the step's merge and side effects.
func (e *Engine) runStep(oc opctx.Context, task models.TaskExecution, step models.StepTemplate, resolver *PlaceholderResolver) error {
	agent, err := e.agents.MustGet(step.AgentName)
	if err != nil {
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	agent = e.applyAdoption(task.ID, agent)
	stepOC := oc.WithAgent(agent.Name, agent.Role)

	prompt, err := resolver.Resolve(stepOC, step.PromptTemplate)
	if err != nil {
		return fmt.Errorf("step %q: resolve prompt: %w", step.Name, err)
	}

	conversation := buildConversation(agent, prompt)
	operationKey := "step_" + step.Name

	maxAttempts := step.MaxRetries + 1
	var result models.GenerateResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepRow, err := e.tasks.CreateStep(oc.Std(), models.TaskExecutionStep{
			TaskID: task.ID, StepIndex: step.Index, StepName: step.Name,
			Status: models.StepRunning, ResolvedPrompt: prompt, Attempt: attempt,
		})
		if err != nil {
			return fmt.Errorf("step %q attempt %d: create row: %w", step.Name, attempt, err)
		}

		var convo []models.ConversationMessage
		if agent.UsesTools() && e.loop != nil {
			result, convo, err = e.loop.Run(stepOC, agent, conversation, operationKey, chatbridge.CallOptions{})
		} else {
			result, err = e.caller.CallWithValidation(stepOC, agent, conversation, operationKey, chatbridge.CallOptions{})
			convo = append(append([]models.ConversationMessage{}, conversation...), models.ConversationMessage{Role: "assistant", Content: result.Content})
		}
		if err != nil {
			_ = e.tasks.UpdateStep(oc.Std(), stepRow.ID, models.StepFailed, "", err.Error())
			if attempt == maxAttempts {
				return fmt.Errorf("step %q: %w", step.Name, err)
			}
			continue
		}

		if step.MinOutputChars > 0 && len(result.Content) < step.MinOutputChars {
			shortfallMsg := fmt.Sprintf("output was only %d characters; this step requires at least %d", len(result.Content), step.MinOutputChars)
			if attempt == maxAttempts {
				_ = e.tasks.UpdateStep(oc.Std(), stepRow.ID, models.StepFailed, result.Content, shortfallMsg)
				return fmt.Errorf("step %q: %s", step.Name, shortfallMsg)
			}
			_ = e.tasks.UpdateStep(oc.Std(), stepRow.ID, models.StepFailed, result.Content, shortfallMsg)
			conversation = append(convo, models.ConversationMessage{
				Role:    "user",
				Content: fmt.Sprintf("Your previous response was only %d characters; the minimum for this step is %d. Please expand and try again.", len(result.Content), step.MinOutputChars),
			})
			continue
		}

		if err := e.tasks.UpdateStep(oc.Std(), stepRow.ID, models.StepCompleted, result.Content, ""); err != nil {
			return fmt.Errorf("step %q: record completion: %w", step.Name, err)
		}
		break
	}

	e.recordAdoption(task.ID, agent, result.ModelUsed)

	if err := e.stories.AppendContent(oc.Std(), task.StoryID, result.Content, step.Merge); err != nil {
		return fmt.Errorf("step %q: merge into story: %w", step.Name, err)
	}

	if step.IsCharactersStep {
		if err := e.stories.SetCharacters(oc.Std(), task.StoryID, result.Content); err != nil {
			return fmt.Errorf("step %q: persist characters: %w", step.Name, err)
		}
	}
	if step.IsEvaluationStep && e.evaluator != nil {
		if err := e.evaluator.Evaluate(stepOC, task.StoryID, result.Content); err != nil {
			return fmt.Errorf("step %q: evaluate: %w", step.Name, err)
		}
	}
	// IsFullStoryStep needs no extra materialization: AppendContent has
	// already folded this step's output into the story's content by the
	// same Merge strategy every other step uses.

	return nil
}

func buildConversation(agent models.Agent, prompt string) []models.ConversationMessage {
	var messages []models.ConversationMessage
	if agent.SystemPrompt != "" {
		messages = append(messages, models.ConversationMessage{Role: "system", Content: agent.SystemPrompt})
	}
	return append(messages, models.ConversationMessage{Role: "user", Content: prompt})
}

// summarize implements Summarizer against the configured summarizer
// agent, used by PlaceholderResolver for {{STEP_k_SUMMARY}} and
// {{STEPS_a-b_SUMMARY}} interpolation.
func (e *Engine) summarize(oc opctx.Context, text string) (string, error) {
	agent, err := e.agents.MustGet(e.summarizerAgentName)
	if err != nil {
		return "", err
	}
	messages := []models.ConversationMessage{{
		Role:    "user",
		Content: "Summarize the following story text concisely, preserving key plot facts:\n\n" + text,
	}}
	result, err := e.caller.CallWithValidation(oc.WithAgent(agent.Name, agent.Role), agent, messages, "summarize_step", chatbridge.CallOptions{})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// applyAdoption returns agent with its Models reordered so a
// previously-adopted fallback model (for this task and agent) is tried
// first, per §4.3's "adopt fallback model for remainder of task".
func (e *Engine) applyAdoption(taskID string, agent models.Agent) models.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	byAgent, ok := e.adopted[taskID]
	if !ok {
		return agent
	}
	model, ok := byAgent[agent.Name]
	if !ok || len(agent.Models) == 0 || agent.Models[0] == model {
		return agent
	}
	reordered := make([]string, 0, len(agent.Models))
	reordered = append(reordered, model)
	for _, m := range agent.Models {
		if m != model {
			reordered = append(reordered, m)
		}
	}
	agent.Models = reordered
	return agent
}

// recordAdoption notes that modelUsed (not agent's configured primary)
// answered successfully for taskID, so every subsequent step in this
// task using the same agent adopts it as the new primary.
func (e *Engine) recordAdoption(taskID string, agent models.Agent, modelUsed string) {
	if modelUsed == "" || len(agent.Models) == 0 || agent.Models[0] == modelUsed {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adopted == nil {
		e.adopted = make(map[string]map[string]string)
	}
	if e.adopted[taskID] == nil {
		e.adopted[taskID] = make(map[string]string)
	}
	e.adopted[taskID][agent.Name] = modelUsed
}
