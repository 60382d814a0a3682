// Package repository is the persistence layer backing every
// SPEC_FULL.md entity: hand-written SQL against database/sql, grounded
// on the teacher's pkg/services transaction-per-operation style but
// without ent, since ent's generated client cannot be produced without
// running `go generate`.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/storyforge/engine/pkg/models"
)

// ErrNotFound is returned by Get-style methods when no row matches.
var ErrNotFound = errors.New("repository: not found")

// TaskExecutionRepository persists TaskExecution and
// TaskExecutionStep rows.
type TaskExecutionRepository struct {
	db *sql.DB
}

// NewTaskExecutionRepository builds a repository over db.
func NewTaskExecutionRepository(db *sql.DB) *TaskExecutionRepository {
	return &TaskExecutionRepository{db: db}
}

// Create inserts a new pending TaskExecution for storyID. It returns
// ErrAlreadyActive (wrapping the unique-violation from the partial
// index) if storyID already has a non-terminal execution.
func (r *TaskExecutionRepository) Create(ctx context.Context, storyID, taskType, seedPrompt string) (models.TaskExecution, error) {
	t := models.TaskExecution{
		ID:         uuid.NewString(),
		StoryID:    storyID,
		TaskType:   taskType,
		Status:     models.TaskPending,
		SeedPrompt: seedPrompt,
	}
	const q = `
		INSERT INTO task_executions (id, story_id, task_type, status, seed_prompt)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, q, t.ID, t.StoryID, t.TaskType, t.Status, t.SeedPrompt).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.TaskExecution{}, fmt.Errorf("%w: story %s already has an active task execution", ErrAlreadyActive, storyID)
		}
		return models.TaskExecution{}, fmt.Errorf("create task execution: %w", err)
	}
	return t, nil
}

// ErrAlreadyActive is returned when a second non-terminal TaskExecution
// is attempted for a story that already has one.
var ErrAlreadyActive = errors.New("repository: story already has an active task execution")

// Get returns the TaskExecution with the given id.
func (r *TaskExecutionRepository) Get(ctx context.Context, id string) (models.TaskExecution, error) {
	const q = `
		SELECT id, story_id, task_type, status, current_step, seed_prompt,
		       error_message, created_at, updated_at, completed_at
		FROM task_executions WHERE id = $1`
	var t models.TaskExecution
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.StoryID, &t.TaskType, &t.Status, &t.CurrentStep, &t.SeedPrompt,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TaskExecution{}, ErrNotFound
	}
	if err != nil {
		return models.TaskExecution{}, fmt.Errorf("get task execution: %w", err)
	}
	return t, nil
}

// AdvanceStep moves the execution onto the given step index and status,
// recording updated_at.
func (r *TaskExecutionRepository) AdvanceStep(ctx context.Context, id string, step int, status models.TaskStatus) error {
	const q = `
		UPDATE task_executions
		SET current_step = $2, status = $3, updated_at = now()
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, step, status)
	if err != nil {
		return fmt.Errorf("advance task execution: %w", err)
	}
	return nil
}

// Complete marks the execution completed or failed, stamping
// completed_at and any terminal error message.
func (r *TaskExecutionRepository) Complete(ctx context.Context, id string, status models.TaskStatus, errMsg string) error {
	const q = `
		UPDATE task_executions
		SET status = $2, error_message = $3, completed_at = now(), updated_at = now()
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("complete task execution: %w", err)
	}
	return nil
}

// ListPending returns pending executions in creation order, up to limit,
// for the worker pool to claim.
func (r *TaskExecutionRepository) ListPending(ctx context.Context, limit int) ([]models.TaskExecution, error) {
	const q = `
		SELECT id, story_id, task_type, status, current_step, seed_prompt,
		       error_message, created_at, updated_at, completed_at
		FROM task_executions WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, models.TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending task executions: %w", err)
	}
	defer rows.Close()

	var out []models.TaskExecution
	for rows.Next() {
		var t models.TaskExecution
		if err := rows.Scan(&t.ID, &t.StoryID, &t.TaskType, &t.Status, &t.CurrentStep,
			&t.SeedPrompt, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task execution: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim flips a pending execution to running, used by a worker
// immediately before it begins processing, so a second worker polling
// concurrently never double-claims the same row.
func (r *TaskExecutionRepository) Claim(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE task_executions SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, q, id, models.TaskRunning, models.TaskPending)
	if err != nil {
		return false, fmt.Errorf("claim task execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task execution: %w", err)
	}
	return n == 1, nil
}

// CountByStatus returns how many task executions currently have the
// given status, used by the worker pool to enforce MaxConcurrentTasks.
func (r *TaskExecutionRepository) CountByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	const q = `SELECT count(*) FROM task_executions WHERE status = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count task executions by status: %w", err)
	}
	return n, nil
}

// CreateStep inserts a new TaskExecutionStep row for the given attempt.
func (r *TaskExecutionRepository) CreateStep(ctx context.Context, step models.TaskExecutionStep) (models.TaskExecutionStep, error) {
	step.ID = uuid.NewString()
	const q = `
		INSERT INTO task_execution_steps
			(id, task_id, step_index, step_name, status, resolved_prompt, output, attempt, model_used, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, q,
		step.ID, step.TaskID, step.StepIndex, step.StepName, step.Status,
		step.ResolvedPrompt, step.Output, step.Attempt, step.ModelUsed, step.ErrorMessage,
	).Scan(&step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return models.TaskExecutionStep{}, fmt.Errorf("create task execution step: %w", err)
	}
	return step, nil
}

// UpdateStep sets a step's terminal status, output, and error message.
func (r *TaskExecutionRepository) UpdateStep(ctx context.Context, id string, status models.StepStatus, output, errMsg string) error {
	const q = `
		UPDATE task_execution_steps
		SET status = $2, output = $3, error_message = $4, updated_at = now()
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, status, output, errMsg)
	if err != nil {
		return fmt.Errorf("update task execution step: %w", err)
	}
	return nil
}

// StepOutput returns the most recent successful output recorded for
// step index idx within taskID, used by placeholder interpolation
// ({{STEP_k}}) to resolve a prior step's output.
func (r *TaskExecutionRepository) StepOutput(ctx context.Context, taskID string, idx int) (string, error) {
	const q = `
		SELECT output FROM task_execution_steps
		WHERE task_id = $1 AND step_index = $2 AND status = $3
		ORDER BY attempt DESC LIMIT 1`
	var out string
	err := r.db.QueryRowContext(ctx, q, taskID, idx, models.StepCompleted).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get step output: %w", err)
	}
	return out, nil
}

// StepOutputsInRange returns completed step outputs for step indices in
// [from, to] inclusive, ordered by step_index, for
// {{STEPS_a-b_SUMMARY}} interpolation.
func (r *TaskExecutionRepository) StepOutputsInRange(ctx context.Context, taskID string, from, to int) ([]string, error) {
	const q = `
		SELECT DISTINCT ON (step_index) step_index, output
		FROM task_execution_steps
		WHERE task_id = $1 AND step_index BETWEEN $2 AND $3 AND status = $4
		ORDER BY step_index, attempt DESC`
	rows, err := r.db.QueryContext(ctx, q, taskID, from, to, models.StepCompleted)
	if err != nil {
		return nil, fmt.Errorf("get step outputs in range: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var idx int
		var output string
		if err := rows.Scan(&idx, &output); err != nil {
			return nil, fmt.Errorf("scan step output: %w", err)
		}
		out = append(out, output)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
