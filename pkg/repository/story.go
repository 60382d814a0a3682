package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyforge/engine/pkg/models"
)

// StoryRepository persists StoryRecord rows and recomputes writer_score
// from the story's evaluations.
type StoryRepository struct {
	db *sql.DB
}

// NewStoryRepository builds a repository over db.
func NewStoryRepository(db *sql.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// Create inserts a new draft StoryRecord for taskID.
func (r *StoryRepository) Create(ctx context.Context, taskID, title string) (models.StoryRecord, error) {
	s := models.StoryRecord{ID: uuid.NewString(), TaskID: taskID, Title: title, Status: models.StoryDraft}
	const q = `
		INSERT INTO story_records (id, task_id, title, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, q, s.ID, s.TaskID, s.Title, s.Status).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return models.StoryRecord{}, fmt.Errorf("create story: %w", err)
	}
	return s, nil
}

// Get returns the story with the given id.
func (r *StoryRepository) Get(ctx context.Context, id string) (models.StoryRecord, error) {
	const q = `
		SELECT id, task_id, title, content, characters, status, writer_score, created_at, updated_at
		FROM story_records WHERE id = $1`
	var s models.StoryRecord
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.TaskID, &s.Title, &s.Content, &s.Characters, &s.Status, &s.WriterScore, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoryRecord{}, ErrNotFound
	}
	if err != nil {
		return models.StoryRecord{}, fmt.Errorf("get story: %w", err)
	}
	return s, nil
}

// SetCharacters persists the character roster produced by a
// characters-step's output.
func (r *StoryRepository) SetCharacters(ctx context.Context, id, characters string) error {
	const q = `UPDATE story_records SET characters = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, id, characters); err != nil {
		return fmt.Errorf("set story characters: %w", err)
	}
	return nil
}

// AppendContent merges newText into the story's content according to
// strategy: accumulate_chapters appends with a separating blank line,
// last_only replaces the content outright.
func (r *StoryRepository) AppendContent(ctx context.Context, id string, newText string, strategy models.MergeStrategy) error {
	var q string
	switch strategy {
	case models.MergeLastOnly:
		q = `UPDATE story_records SET content = $2, updated_at = now() WHERE id = $1`
	default: // MergeAccumulateChapters
		q = `UPDATE story_records
		     SET content = CASE WHEN content = '' THEN $2 ELSE content || E'\n\n' || $2 END,
		         updated_at = now()
		     WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, q, id, newText); err != nil {
		return fmt.Errorf("append story content: %w", err)
	}
	return nil
}

// RecomputeScore recomputes writer_score as the mean of the
// per-evaluator totals (StoryEvaluation.TotalScore) and sets status to
// evaluated once the story has at least two evaluations, draft otherwise.
func (r *StoryRepository) RecomputeScore(ctx context.Context, id string) (float64, error) {
	const q = `
		SELECT categories FROM story_evaluations WHERE story_id = $1`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return 0, fmt.Errorf("recompute story score: %w", err)
	}
	defer rows.Close()

	var evalCount int
	var totalSum float64
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("scan evaluation categories: %w", err)
		}
		categories, err := decodeCategories(raw)
		if err != nil {
			return 0, err
		}
		evalCount++
		totalSum += models.StoryEvaluation{Categories: categories}.TotalScore()
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var score float64
	if evalCount > 0 {
		score = totalSum / float64(evalCount)
	}

	status := models.StoryDraft
	if evalCount >= 2 {
		status = models.StoryEvaluated
	}

	const upd = `UPDATE story_records SET writer_score = $2, status = $3, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, upd, id, score, status); err != nil {
		return 0, fmt.Errorf("update story score: %w", err)
	}
	return score, nil
}
