package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyforge/engine/pkg/models"
)

// ResponseLogRepository persists ModelResponseLog rows. A row is always
// flushed by LogCall before StampVerdict is ever called for it — the
// validator looks the row up by id to attach its verdict, so the row
// must already exist.
type ResponseLogRepository struct {
	db *sql.DB
}

// NewResponseLogRepository builds a repository over db.
func NewResponseLogRepository(db *sql.DB) *ResponseLogRepository {
	return &ResponseLogRepository{db: db}
}

// LogCall inserts the request/response pair for one chat-bridge call,
// returning the row id the validator will later stamp a verdict onto.
func (r *ResponseLogRepository) LogCall(ctx context.Context, operationKey, modelName, requestJSON, responseJSON string, attempt int) (string, error) {
	id := uuid.NewString()
	const q = `
		INSERT INTO model_response_logs (id, operation_key, model_name, request_json, response_json, attempt)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, q, id, operationKey, modelName, requestJSON, responseJSON, attempt); err != nil {
		return "", fmt.Errorf("log model response: %w", err)
	}
	return id, nil
}

// StampVerdict attaches the validator's outcome to an already-logged
// call. Returns ErrNotFound if id does not correspond to a logged row —
// callers must flush LogCall first.
func (r *ResponseLogRepository) StampVerdict(ctx context.Context, id, verdict, detail string) error {
	const q = `UPDATE model_response_logs SET verdict = $2, verdict_detail = $3, verdict_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, verdict, detail)
	if err != nil {
		return fmt.Errorf("stamp verdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp verdict: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the logged call with the given id.
func (r *ResponseLogRepository) Get(ctx context.Context, id string) (models.ModelResponseLog, error) {
	const q = `
		SELECT id, operation_key, model_name, request_json, response_json, attempt,
		       verdict, verdict_detail, created_at, verdict_at
		FROM model_response_logs WHERE id = $1`
	var l models.ModelResponseLog
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&l.ID, &l.OperationKey, &l.ModelName, &l.RequestJSON, &l.ResponseJSON, &l.Attempt,
		&l.Verdict, &l.VerdictDetail, &l.CreatedAt, &l.VerdictAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModelResponseLog{}, ErrNotFound
	}
	if err != nil {
		return models.ModelResponseLog{}, fmt.Errorf("get model response log: %w", err)
	}
	return l, nil
}
