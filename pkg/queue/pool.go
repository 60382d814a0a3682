package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
)

// WorkerPool manages a pool of queue workers driving TaskExecutions
// through a TaskRunner.
type WorkerPool struct {
	tasks   TaskStore
	active  ActiveCounter
	runner  TaskRunner
	config  *config.QueueConfig
	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(tasks TaskStore, active ActiveCounter, runner TaskRunner, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		tasks:       tasks,
		active:      active,
		runner:      runner,
		config:      cfg,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate start call")
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		worker := NewWorker(workerID, p.tasks, p.active, p.runner, p.config, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current task before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.getActiveTaskIDs()
	if len(active) > 0 {
		slog.Info("waiting for active tasks to complete", "count", len(active), "task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterTask stores a cancel function for a claimed task, used by
// Stop/external cancellation paths to tear down an in-flight run.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when a task finishes.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task. Returns true if
// the task was found running on this pool.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth := 0
	pending, errQ := p.tasks.ListPending(ctx, 1000)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "error", errQ)
	} else {
		queueDepth = len(pending)
	}

	activeCount, errA := p.active.CountByStatus(ctx, models.TaskRunning)
	if errA != nil {
		slog.Error("failed to query active tasks for health check", "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeCount <= p.config.MaxConcurrentTasks && dbHealthy

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active tasks query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:     isHealthy,
		DBReachable:   dbHealthy,
		DBError:       dbError,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    queueDepth,
		MaxConcurrent: p.config.MaxConcurrentTasks,
		WorkerStats:   workerStats,
	}
}

func (p *WorkerPool) getActiveTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
