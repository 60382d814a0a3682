package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	pending   []models.TaskExecution
	claimed   map[string]bool
	completed map[string]models.TaskStatus
}

func newFakeTaskStore(pending ...models.TaskExecution) *fakeTaskStore {
	return &fakeTaskStore{pending: pending, claimed: map[string]bool{}, completed: map[string]models.TaskStatus{}}
}

func (f *fakeTaskStore) ListPending(ctx context.Context, limit int) ([]models.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TaskExecution
	for _, t := range f.pending {
		if !f.claimed[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) Claim(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeTaskStore) Complete(ctx context.Context, id string, status models.TaskStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = status
	return nil
}

type fakeActiveCounter struct {
	count int
}

func (f *fakeActiveCounter) CountByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	return f.count, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
}

func (f *fakeRunner) RunTask(oc opctx.Context, taskID string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, taskID)
	f.mu.Unlock()
	return f.err
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:        1,
		MaxConcurrentTasks: 5,
		PollInterval:       5 * time.Millisecond,
		PollIntervalJitter: 1 * time.Millisecond,
		TaskTimeout:        time.Second,
	}
}

func TestWorker_ClaimsAndRunsPendingTask(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"})
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	pool := NewWorkerPool(store, active, runner, testQueueConfig())
	w := NewWorker("w-0", store, active, runner, testQueueConfig(), pool)

	err := w.pollAndProcess(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, runner.calls)
	assert.True(t, store.claimed["task-1"])
}

func TestWorker_NoTasksReturnsSentinelError(t *testing.T) {
	store := newFakeTaskStore()
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	pool := NewWorkerPool(store, active, runner, testQueueConfig())
	w := NewWorker("w-0", store, active, runner, testQueueConfig(), pool)

	err := w.pollAndProcess(context.Background())

	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestWorker_AtCapacityReturnsSentinelErrorWithoutClaiming(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"})
	active := &fakeActiveCounter{count: 5}
	runner := &fakeRunner{}
	cfg := testQueueConfig()
	pool := NewWorkerPool(store, active, runner, cfg)
	w := NewWorker("w-0", store, active, runner, cfg, pool)

	err := w.pollAndProcess(context.Background())

	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Empty(t, runner.calls)
	assert.False(t, store.claimed["task-1"])
}

func TestWorker_TwoWorkersNeverDoubleClaimTheSameTask(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"})
	active := &fakeActiveCounter{}
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	cfg := testQueueConfig()
	pool := NewWorkerPool(store, active, runner, cfg)
	w1 := NewWorker("w-0", store, active, runner, cfg, pool)
	w2 := NewWorker("w-1", store, active, runner, cfg, pool)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = w1.pollAndProcess(context.Background()) }()
	go func() { defer wg.Done(); _ = w2.pollAndProcess(context.Background()) }()
	wg.Wait()

	assert.Len(t, runner.calls, 1)
}

func TestWorker_RunnerErrorIsLoggedNotRetriedByWorker(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"})
	active := &fakeActiveCounter{}
	runner := &fakeRunner{err: fmt.Errorf("step engine: boom")}
	cfg := testQueueConfig()
	pool := NewWorkerPool(store, active, runner, cfg)
	w := NewWorker("w-0", store, active, runner, cfg, pool)

	err := w.pollAndProcess(context.Background())

	require.NoError(t, err)
	assert.Len(t, runner.calls, 1)
	// The step engine itself persists the terminal failure on the
	// TaskExecution row; the worker does not call Complete again for an
	// ordinary run error.
	_, completedAgain := store.completed["task-1"]
	assert.False(t, completedAgain)
}

func TestWorker_HealthReflectsStatus(t *testing.T) {
	store := newFakeTaskStore()
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	pool := NewWorkerPool(store, active, runner, testQueueConfig())
	w := NewWorker("w-0", store, active, runner, testQueueConfig(), pool)

	h := w.Health()
	assert.Equal(t, "idle", h.Status)
	assert.Equal(t, "w-0", h.ID)
}
