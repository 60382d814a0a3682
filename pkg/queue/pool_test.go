package queue

import (
	"context"
	"testing"
	"time"

	"github.com/storyforge/engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	store := newFakeTaskStore()
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	pool := NewWorkerPool(store, active, runner, testQueueConfig())

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background()))
	assert.Len(t, pool.workers, 1)

	pool.Stop()
}

func TestWorkerPool_RunsAQueuedTaskEndToEnd(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"})
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	cfg := testQueueConfig()
	pool := NewWorkerPool(store, active, runner, cfg)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return len(runner.calls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_RegisterAndCancelTask(t *testing.T) {
	store := newFakeTaskStore()
	active := &fakeActiveCounter{}
	runner := &fakeRunner{}
	pool := NewWorkerPool(store, active, runner, testQueueConfig())

	cancelled := false
	pool.RegisterTask("task-1", func() { cancelled = true })

	assert.True(t, pool.CancelTask("task-1"))
	assert.True(t, cancelled)

	pool.UnregisterTask("task-1")
	assert.False(t, pool.CancelTask("task-1"))

	assert.False(t, pool.CancelTask("missing"))
}

func TestWorkerPool_HealthReportsQueueDepthAndWorkers(t *testing.T) {
	store := newFakeTaskStore(models.TaskExecution{ID: "task-1"}, models.TaskExecution{ID: "task-2"})
	active := &fakeActiveCounter{count: 1}
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	cfg := testQueueConfig()
	pool := NewWorkerPool(store, active, runner, cfg)

	h := pool.Health()
	assert.Equal(t, 2, h.QueueDepth)
	assert.Equal(t, 5, h.MaxConcurrent)
	assert.True(t, h.DBReachable)
}
