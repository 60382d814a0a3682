package stepengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskStore struct {
	task         models.TaskExecution
	outputs      map[int]string
	createdSteps []models.TaskExecutionStep
	advancedTo   []int
	completed    *models.TaskStatus
	completedErr string
}

func (f *fakeTaskStore) StepOutput(ctx context.Context, taskID string, idx int) (string, error) {
	out, ok := f.outputs[idx]
	if !ok {
		return "", fmt.Errorf("no output for step %d", idx)
	}
	return out, nil
}

func (f *fakeTaskStore) StepOutputsInRange(ctx context.Context, taskID string, from, to int) ([]string, error) {
	var out []string
	for i := from; i <= to; i++ {
		v, ok := f.outputs[i]
		if !ok {
			return nil, fmt.Errorf("no output for step %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeTaskStore) Get(ctx context.Context, id string) (models.TaskExecution, error) {
	return f.task, nil
}

func (f *fakeTaskStore) AdvanceStep(ctx context.Context, id string, step int, status models.TaskStatus) error {
	f.advancedTo = append(f.advancedTo, step)
	f.task.CurrentStep = step
	return nil
}

func (f *fakeTaskStore) Complete(ctx context.Context, id string, status models.TaskStatus, errMsg string) error {
	f.completed = &status
	f.completedErr = errMsg
	return nil
}

func (f *fakeTaskStore) CreateStep(ctx context.Context, step models.TaskExecutionStep) (models.TaskExecutionStep, error) {
	step.ID = fmt.Sprintf("step-row-%d", len(f.createdSteps)+1)
	f.createdSteps = append(f.createdSteps, step)
	return step, nil
}

func (f *fakeTaskStore) UpdateStep(ctx context.Context, id string, status models.StepStatus, output, errMsg string) error {
	for i := range f.createdSteps {
		if f.createdSteps[i].ID != id {
			continue
		}
		f.createdSteps[i].Status = status
		f.createdSteps[i].Output = output
		f.createdSteps[i].ErrorMessage = errMsg
		if status == models.StepCompleted {
			if f.outputs == nil {
				f.outputs = make(map[int]string)
			}
			f.outputs[f.createdSteps[i].StepIndex] = output
		}
		break
	}
	return nil
}

type fakeStoryStore struct {
	appended   []string
	characters string
}

func (f *fakeStoryStore) AppendContent(ctx context.Context, id, newText string, strategy models.MergeStrategy) error {
	f.appended = append(f.appended, newText)
	return nil
}

func (f *fakeStoryStore) SetCharacters(ctx context.Context, id, characters string) error {
	f.characters = characters
	return nil
}

type callRecord struct {
	agentModels  []string
	operationKey string
}

type fakeCaller struct {
	results []models.GenerateResult
	errs    []error
	calls   []callRecord
}

func (f *fakeCaller) CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error) {
	i := len(f.calls)
	f.calls = append(f.calls, callRecord{agentModels: append([]string{}, agent.Models...), operationKey: operationKey})
	if i < len(f.errs) && f.errs[i] != nil {
		return models.GenerateResult{}, f.errs[i]
	}
	return f.results[i], nil
}

type fakeLoop struct {
	results []models.GenerateResult
	calls   int
}

func (f *fakeLoop) Run(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, []models.ConversationMessage, error) {
	result := f.results[f.calls]
	f.calls++
	return result, append(messages, models.ConversationMessage{Role: "assistant", Content: result.Content}), nil
}

type fakeEvaluator struct {
	called  bool
	storyID string
	output  string
}

func (f *fakeEvaluator) Evaluate(oc opctx.Context, storyID, evaluatorOutput string) error {
	f.called = true
	f.storyID = storyID
	f.output = evaluatorOutput
	return nil
}

func writerAgent() models.Agent {
	return models.Agent{Name: "writer", Role: "writer", Models: []string{"primary", "secondary"}}
}

func testRegistries(agent models.Agent, steps []models.StepTemplate) (*config.AgentRegistry, *config.TaskTypeRegistry) {
	agents := config.NewAgentRegistry([]models.Agent{agent, {Name: "summarizer", Role: "summarizer", Models: []string{"primary"}}})
	taskTypes := config.NewTaskTypeRegistry([]models.TaskType{{Name: "story", Steps: steps}})
	return agents, taskTypes
}

func TestRunTask_HappyPathThreeSteps(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "outline", AgentName: "writer", PromptTemplate: "Write an outline.", Merge: models.MergeAccumulateChapters},
		{Index: 1, Name: "chapter1", AgentName: "writer", PromptTemplate: "Continue from: {{STEP_0}}", Merge: models.MergeAccumulateChapters},
		{Index: 2, Name: "chapter2", AgentName: "writer", PromptTemplate: "Continue from: {{STEP_1}}", Merge: models.MergeAccumulateChapters, IsFullStoryStep: true},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{
		{Content: "Outline text", ModelUsed: "primary"},
		{Content: "Chapter one text", ModelUsed: "primary"},
		{Content: "Chapter two text", ModelUsed: "primary"},
	}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	require.NotNil(t, taskStore.completed)
	assert.Equal(t, models.TaskCompleted, *taskStore.completed)
	assert.Equal(t, []string{"Outline text", "Chapter one text", "Chapter two text"}, storyStore.appended)
	require.Len(t, taskStore.createdSteps, 3)
	assert.Equal(t, "Continue from: Outline text", taskStore.createdSteps[1].ResolvedPrompt)
	assert.Equal(t, "Continue from: Chapter one text", taskStore.createdSteps[2].ResolvedPrompt)
}

func TestRunTask_MinOutputCharsRetriesThenSucceeds(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "draft", AgentName: "writer", PromptTemplate: "Write a draft.", Merge: models.MergeLastOnly, MinOutputChars: 20, MaxRetries: 1},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{
		{Content: "short", ModelUsed: "primary"},
		{Content: "this is a much longer passage of text", ModelUsed: "primary"},
	}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, *taskStore.completed)
	require.Len(t, taskStore.createdSteps, 2)
	assert.Equal(t, models.StepFailed, taskStore.createdSteps[0].Status)
	assert.Equal(t, models.StepCompleted, taskStore.createdSteps[1].Status)
	assert.Equal(t, []string{"this is a much longer passage of text"}, storyStore.appended)
}

func TestRunTask_MinOutputCharsExhaustsRetryBudget(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "draft", AgentName: "writer", PromptTemplate: "Write a draft.", Merge: models.MergeLastOnly, MinOutputChars: 20, MaxRetries: 1},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{
		{Content: "short", ModelUsed: "primary"},
		{Content: "also short", ModelUsed: "primary"},
	}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.Error(t, err)
	require.NotNil(t, taskStore.completed)
	assert.Equal(t, models.TaskFailed, *taskStore.completed)
	assert.Empty(t, storyStore.appended)
}

func TestRunTask_AdoptsFallbackModelForRemainderOfTask(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "outline", AgentName: "writer", PromptTemplate: "Write an outline.", Merge: models.MergeAccumulateChapters},
		{Index: 1, Name: "chapter1", AgentName: "writer", PromptTemplate: "Continue from: {{STEP_0}}", Merge: models.MergeAccumulateChapters},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{
		{Content: "step0 out", ModelUsed: "secondary"},
		{Content: "step1 out", ModelUsed: "secondary"},
	}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	require.Len(t, caller.calls, 2)
	assert.Equal(t, []string{"primary", "secondary"}, caller.calls[0].agentModels)
	assert.Equal(t, []string{"secondary", "primary"}, caller.calls[1].agentModels)
}

func TestRunTask_CharactersStepPersistsRoster(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "characters", AgentName: "writer", PromptTemplate: "List characters.", Merge: models.MergeLastOnly, IsCharactersStep: true},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{{Content: "- Aria: hero", ModelUsed: "primary"}}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	assert.Equal(t, "- Aria: hero", storyStore.characters)
}

func TestRunTask_EvaluationStepInvokesEvaluator(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "evaluate", AgentName: "writer", PromptTemplate: "Evaluate the story.", Merge: models.MergeLastOnly, IsEvaluationStep: true},
	}
	agents, taskTypes := testRegistries(writerAgent(), steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{results: []models.GenerateResult{{Content: `{"action":5}`, ModelUsed: "primary"}}}
	evaluator := &fakeEvaluator{}

	e := New(taskStore, storyStore, agents, taskTypes, caller, nil, "summarizer", evaluator)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	assert.True(t, evaluator.called)
	assert.Equal(t, "story-1", evaluator.storyID)
	assert.Equal(t, `{"action":5}`, evaluator.output)
}

func TestRunTask_ToolUsingAgentGoesThroughLoop(t *testing.T) {
	steps := []models.StepTemplate{
		{Index: 0, Name: "outline", AgentName: "researcher", PromptTemplate: "Write an outline.", Merge: models.MergeAccumulateChapters},
	}
	agent := models.Agent{Name: "researcher", Role: "writer", Models: []string{"primary"}, ToolNames: []string{"lookup_name"}}
	agents, taskTypes := testRegistries(agent, steps)

	taskStore := &fakeTaskStore{task: models.TaskExecution{ID: "task-1", StoryID: "story-1", TaskType: "story"}}
	storyStore := &fakeStoryStore{}
	caller := &fakeCaller{}
	loop := &fakeLoop{results: []models.GenerateResult{{Content: "outline via tools", ModelUsed: "primary"}}}

	e := New(taskStore, storyStore, agents, taskTypes, caller, loop, "summarizer", nil)
	err := e.RunTask(opctx.New(context.Background(), "task-1", "thread-1"), "task-1")

	require.NoError(t, err)
	assert.Equal(t, 1, loop.calls)
	assert.Empty(t, caller.calls)
	assert.Equal(t, []string{"outline via tools"}, storyStore.appended)
}
