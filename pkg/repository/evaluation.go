package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyforge/engine/pkg/models"
)

// EvaluationRepository persists StoryEvaluation rows, one per
// (story, evaluator agent) pair — a second evaluation from the same
// evaluator replaces rather than duplicates.
type EvaluationRepository struct {
	db *sql.DB
}

// NewEvaluationRepository builds a repository over db.
func NewEvaluationRepository(db *sql.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Upsert inserts or replaces the evaluation for (storyID, evaluatorAgent),
// normalizing the legacy "action" category alias before storing.
func (r *EvaluationRepository) Upsert(ctx context.Context, storyID, evaluatorAgent string, rawCategories map[string]float64, notes string) (models.StoryEvaluation, error) {
	categories := models.NormalizeCategories(rawCategories)
	encoded, err := json.Marshal(categories)
	if err != nil {
		return models.StoryEvaluation{}, fmt.Errorf("encode evaluation categories: %w", err)
	}

	e := models.StoryEvaluation{
		ID: uuid.NewString(), StoryID: storyID, EvaluatorAgent: evaluatorAgent,
		Categories: categories, Notes: notes,
	}
	const q = `
		INSERT INTO story_evaluations (id, story_id, evaluator_agent, categories, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (story_id, evaluator_agent)
		DO UPDATE SET categories = EXCLUDED.categories, notes = EXCLUDED.notes
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, q, e.ID, e.StoryID, e.EvaluatorAgent, encoded, e.Notes).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return models.StoryEvaluation{}, fmt.Errorf("upsert evaluation: %w", err)
	}
	return e, nil
}

// ListForStory returns every evaluation recorded for storyID.
func (r *EvaluationRepository) ListForStory(ctx context.Context, storyID string) ([]models.StoryEvaluation, error) {
	const q = `
		SELECT id, story_id, evaluator_agent, categories, notes, created_at
		FROM story_evaluations WHERE story_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, storyID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.StoryEvaluation
	for rows.Next() {
		var e models.StoryEvaluation
		var raw []byte
		if err := rows.Scan(&e.ID, &e.StoryID, &e.EvaluatorAgent, &raw, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		categories, err := decodeCategories(raw)
		if err != nil {
			return nil, err
		}
		e.Categories = categories
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeCategories(raw []byte) (map[string]float64, error) {
	var categories map[string]float64
	if err := json.Unmarshal(raw, &categories); err != nil {
		return nil, fmt.Errorf("decode evaluation categories: %w", err)
	}
	return categories, nil
}
