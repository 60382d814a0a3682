package config

import "time"

// QueueConfig contains worker pool configuration for the single-process
// task executor. Unlike the multi-replica pool this was adapted from,
// there is no cross-node orphan detection: the process owns every
// TaskExecution it claims for its own lifetime.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines pulling
	// TaskExecutions from the pending queue.
	WorkerCount int `yaml:"worker_count" validate:"omitempty,min=1"`

	// MaxConcurrentTasks caps how many TaskExecutions this process will
	// run at once, independent of WorkerCount (a worker blocks on this
	// limit rather than failing to claim).
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" validate:"omitempty,min=1"`

	// PollInterval is the base interval for checking pending tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter bounds the random offset applied to
	// PollInterval: each wait is drawn from [PollInterval-jitter,
	// PollInterval+jitter).
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskTimeout is the maximum time a single TaskExecution may run
	// before it is force-failed.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// tasks to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:             5,
		MaxConcurrentTasks:      5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		TaskTimeout:             15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
	}
}
