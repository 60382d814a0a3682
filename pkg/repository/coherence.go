package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyforge/engine/pkg/models"
)

// CoherenceRepository persists ChunkFacts and GlobalCoherence rows
// produced by the coherence evaluator.
type CoherenceRepository struct {
	db *sql.DB
}

// NewCoherenceRepository builds a repository over db.
func NewCoherenceRepository(db *sql.DB) *CoherenceRepository {
	return &CoherenceRepository{db: db}
}

// UpsertChunkFacts replaces the fact set for one chunk index of a story
// (re-evaluation overwrites, never duplicates).
func (r *CoherenceRepository) UpsertChunkFacts(ctx context.Context, storyID string, chunkIndex, start, end int, facts []string) (models.ChunkFacts, error) {
	encoded, err := json.Marshal(facts)
	if err != nil {
		return models.ChunkFacts{}, fmt.Errorf("encode chunk facts: %w", err)
	}
	cf := models.ChunkFacts{ID: uuid.NewString(), StoryID: storyID, ChunkIndex: chunkIndex, StartOffset: start, EndOffset: end, Facts: facts}
	const q = `
		INSERT INTO chunk_facts (id, story_id, chunk_index, start_offset, end_offset, facts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (story_id, chunk_index)
		DO UPDATE SET start_offset = EXCLUDED.start_offset, end_offset = EXCLUDED.end_offset, facts = EXCLUDED.facts
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, q, cf.ID, cf.StoryID, cf.ChunkIndex, cf.StartOffset, cf.EndOffset, encoded).
		Scan(&cf.ID, &cf.CreatedAt)
	if err != nil {
		return models.ChunkFacts{}, fmt.Errorf("upsert chunk facts: %w", err)
	}
	return cf, nil
}

// ListChunkFacts returns every ChunkFacts row for storyID in chunk order.
func (r *CoherenceRepository) ListChunkFacts(ctx context.Context, storyID string) ([]models.ChunkFacts, error) {
	const q = `
		SELECT id, story_id, chunk_index, start_offset, end_offset, facts, created_at
		FROM chunk_facts WHERE story_id = $1 ORDER BY chunk_index ASC`
	rows, err := r.db.QueryContext(ctx, q, storyID)
	if err != nil {
		return nil, fmt.Errorf("list chunk facts: %w", err)
	}
	defer rows.Close()

	var out []models.ChunkFacts
	for rows.Next() {
		var cf models.ChunkFacts
		var raw []byte
		if err := rows.Scan(&cf.ID, &cf.StoryID, &cf.ChunkIndex, &cf.StartOffset, &cf.EndOffset, &raw, &cf.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk facts: %w", err)
		}
		if err := json.Unmarshal(raw, &cf.Facts); err != nil {
			return nil, fmt.Errorf("decode chunk facts: %w", err)
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

// UpsertGlobalCoherence replaces the single coherence verdict for a story.
func (r *CoherenceRepository) UpsertGlobalCoherence(ctx context.Context, storyID string, contradictions []string, score float64) (models.GlobalCoherence, error) {
	encoded, err := json.Marshal(contradictions)
	if err != nil {
		return models.GlobalCoherence{}, fmt.Errorf("encode contradictions: %w", err)
	}
	gc := models.GlobalCoherence{ID: uuid.NewString(), StoryID: storyID, Contradictions: contradictions, Score: score}
	const q = `
		INSERT INTO global_coherence (id, story_id, contradictions, score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (story_id) DO UPDATE SET contradictions = EXCLUDED.contradictions, score = EXCLUDED.score
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, q, gc.ID, gc.StoryID, encoded, gc.Score).Scan(&gc.ID, &gc.CreatedAt)
	if err != nil {
		return models.GlobalCoherence{}, fmt.Errorf("upsert global coherence: %w", err)
	}
	return gc, nil
}

// GetGlobalCoherence returns the coherence verdict for storyID.
func (r *CoherenceRepository) GetGlobalCoherence(ctx context.Context, storyID string) (models.GlobalCoherence, error) {
	const q = `SELECT id, story_id, contradictions, score, created_at FROM global_coherence WHERE story_id = $1`
	var gc models.GlobalCoherence
	var raw []byte
	err := r.db.QueryRowContext(ctx, q, storyID).Scan(&gc.ID, &gc.StoryID, &raw, &gc.Score, &gc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GlobalCoherence{}, ErrNotFound
	}
	if err != nil {
		return models.GlobalCoherence{}, fmt.Errorf("get global coherence: %w", err)
	}
	if err := json.Unmarshal(raw, &gc.Contradictions); err != nil {
		return models.GlobalCoherence{}, fmt.Errorf("decode contradictions: %w", err)
	}
	return gc, nil
}
