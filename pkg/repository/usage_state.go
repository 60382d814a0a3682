package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storyforge/engine/pkg/models"
)

// UsageStateRepository persists the fallback controller's per
// (model, agent) running tally.
type UsageStateRepository struct {
	db *sql.DB
}

// NewUsageStateRepository builds a repository over db.
func NewUsageStateRepository(db *sql.DB) *UsageStateRepository {
	return &UsageStateRepository{db: db}
}

// RecordOutcome increments the success or failure counter for
// (modelName, agentName) and stamps the last outcome, creating the row
// on first use.
func (r *UsageStateRepository) RecordOutcome(ctx context.Context, modelName, agentName string, outcome models.FallbackOutcome) error {
	successDelta, failureDelta := 0, 0
	if outcome == models.FallbackSucceeded {
		successDelta = 1
	} else {
		failureDelta = 1
	}
	const q = `
		INSERT INTO usage_states (model_name, agent_name, success_count, failure_count, last_outcome, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (model_name, agent_name) DO UPDATE
		SET success_count = usage_states.success_count + EXCLUDED.success_count,
		    failure_count = usage_states.failure_count + EXCLUDED.failure_count,
		    last_outcome = EXCLUDED.last_outcome,
		    last_updated_at = now()`
	_, err := r.db.ExecContext(ctx, q, modelName, agentName, successDelta, failureDelta, outcome)
	if err != nil {
		return fmt.Errorf("record usage outcome: %w", err)
	}
	return nil
}

// Get returns the tally for (modelName, agentName), or a zero-value
// UsageState (50% neutral success rate) if no observations exist yet.
func (r *UsageStateRepository) Get(ctx context.Context, modelName, agentName string) (models.UsageState, error) {
	const q = `
		SELECT model_name, agent_name, success_count, failure_count, last_outcome, last_updated_at
		FROM usage_states WHERE model_name = $1 AND agent_name = $2`
	var u models.UsageState
	err := r.db.QueryRowContext(ctx, q, modelName, agentName).Scan(
		&u.ModelName, &u.AgentName, &u.SuccessCount, &u.FailureCount, &u.LastOutcome, &u.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageState{ModelName: modelName, AgentName: agentName}, nil
	}
	if err != nil {
		return models.UsageState{}, fmt.Errorf("get usage state: %w", err)
	}
	return u, nil
}
