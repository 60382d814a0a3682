// Package queue drives pending TaskExecutions through stepengine.Engine
// using a pool of polling worker goroutines, grounded on the teacher's
// pkg/queue worker-pool shape (claim-next-pending, heartbeat-free single
// process ownership) with the teacher's multi-replica orphan detection
// dropped per this deployment's single-process scope (see DESIGN.md).
package queue

import (
	"errors"
	"time"

	"github.com/storyforge/engine/pkg/opctx"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates no pending TaskExecutions are queued.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates MaxConcurrentTasks is already running.
	ErrAtCapacity = errors.New("at capacity")
)

// TaskRunner is the interface a worker drives a claimed TaskExecution
// through. Implemented by stepengine.Engine.
type TaskRunner interface {
	RunTask(oc opctx.Context, taskID string) error
}

// PoolHealth reports the current state of the worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	MaxConcurrent int            `json:"max_concurrent"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth reports the current state of a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
