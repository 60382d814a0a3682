package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// TaskStore is the subset of repository.TaskExecutionRepository a worker
// depends on to claim and account for TaskExecutions.
type TaskStore interface {
	ListPending(ctx context.Context, limit int) ([]models.TaskExecution, error)
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, status models.TaskStatus, errMsg string) error
}

// ActiveCounter reports how many TaskExecutions are currently running,
// used to enforce MaxConcurrentTasks independent of worker count.
type ActiveCounter interface {
	CountByStatus(ctx context.Context, status models.TaskStatus) (int, error)
}

// Worker is a single queue worker that polls for and runs
// TaskExecutions through a TaskRunner.
type Worker struct {
	id       string
	tasks    TaskStore
	active   ActiveCounter
	runner   TaskRunner
	config   *config.QueueConfig
	pool     SessionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// SessionRegistry is the subset of WorkerPool used by Worker for
// cancellation registration of in-flight tasks.
type SessionRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id string, tasks TaskStore, active ActiveCounter, runner TaskRunner, cfg *config.QueueConfig, pool SessionRegistry) *Worker {
	return &Worker{
		id:           id,
		tasks:        tasks,
		active:       active,
		runner:       runner,
		config:       cfg,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims the next pending task, and
// drives it through the runner to completion.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.active.CountByStatus(ctx, models.TaskRunning)
	if err != nil {
		return fmt.Errorf("checking active tasks: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	task, err := w.claimNextTask(ctx)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "worker_id", w.id)
	log.Info("task claimed")

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	w.pool.RegisterTask(task.ID, cancel)
	defer w.pool.UnregisterTask(task.ID)

	threadID := uuid.NewString()
	oc := opctx.New(taskCtx, task.ID, threadID)

	runErr := w.runner.RunTask(oc, task.ID)
	if runErr != nil {
		switch {
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			_ = w.tasks.Complete(context.Background(), task.ID, models.TaskFailed,
				fmt.Sprintf("task timed out after %v", w.config.TaskTimeout))
		case errors.Is(taskCtx.Err(), context.Canceled):
			_ = w.tasks.Complete(context.Background(), task.ID, models.TaskFailed, "task cancelled")
		default:
			// RunTask already records the failure on the TaskExecution
			// row itself; nothing further to persist here.
			log.Error("task run failed", "error", runErr)
		}
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("task processing complete")
	return nil
}

// claimNextTask lists the oldest pending task and attempts to claim it.
// Claim's conditional UPDATE (status = pending -> running) is what
// actually resolves the race against a concurrent worker claiming the
// same row; ListPending itself is advisory.
func (w *Worker) claimNextTask(ctx context.Context) (models.TaskExecution, error) {
	pending, err := w.tasks.ListPending(ctx, w.config.WorkerCount)
	if err != nil {
		return models.TaskExecution{}, fmt.Errorf("list pending tasks: %w", err)
	}
	for _, task := range pending {
		claimed, err := w.tasks.Claim(ctx, task.ID)
		if err != nil {
			return models.TaskExecution{}, fmt.Errorf("claim task %s: %w", task.ID, err)
		}
		if claimed {
			return task, nil
		}
	}
	return models.TaskExecution{}, ErrNoTasksAvailable
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
