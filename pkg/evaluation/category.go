package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// evaluatorCategory is one scored category of an evaluator agent's
// response: a numeric score plus the defects it found justifying that
// score.
type evaluatorCategory struct {
	Score   float64  `json:"score"`
	Defects []string `json:"defects,omitempty"`
}

// evaluatorResponse is the full JSON shape an evaluator agent must
// return for a per-story category-scoring pass, per spec.md §4.6.
// Pacing is the legacy alias of Action, folded into it by
// models.NormalizeCategories.
type evaluatorResponse struct {
	NarrativeCoherence evaluatorCategory  `json:"narrative_coherence"`
	Originality        evaluatorCategory  `json:"originality"`
	EmotionalImpact    evaluatorCategory  `json:"emotional_impact"`
	Action             *evaluatorCategory `json:"action,omitempty"`
	Pacing             *evaluatorCategory `json:"pacing,omitempty"`
}

func parseEvaluatorResponse(raw string) (evaluatorResponse, error) {
	var resp evaluatorResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		if obj := extractJSONObject(raw); obj != "" {
			if err2 := json.Unmarshal([]byte(obj), &resp); err2 == nil {
				return resp, nil
			}
		}
		return evaluatorResponse{}, fmt.Errorf("parse evaluator response: %w", err)
	}
	return resp, nil
}

// scores flattens the response into the raw category map
// EvaluationStore.Upsert expects, before alias normalization.
func (r evaluatorResponse) scores() map[string]float64 {
	out := map[string]float64{
		models.CategoryNarrativeCoherence: r.NarrativeCoherence.Score,
		models.CategoryOriginality:        r.Originality.Score,
		models.CategoryEmotionalImpact:    r.EmotionalImpact.Score,
	}
	if r.Action != nil {
		out[models.CategoryAction] = r.Action.Score
	}
	if r.Pacing != nil {
		out["pacing"] = r.Pacing.Score
	}
	return out
}

// notes joins every category's reported defects into a single
// human-readable string for StoryEvaluation.Notes.
func (r evaluatorResponse) notes() string {
	var parts []string
	add := func(name string, c evaluatorCategory) {
		if len(c.Defects) == 0 {
			return
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(c.Defects, "; ")))
	}
	add("narrative_coherence", r.NarrativeCoherence)
	add("originality", r.Originality)
	add("emotional_impact", r.EmotionalImpact)
	if r.Action != nil {
		add("action", *r.Action)
	}
	if r.Pacing != nil {
		add("pacing", *r.Pacing)
	}
	return strings.Join(parts, "\n")
}

// EvaluationStore is the subset of repository.EvaluationRepository the
// category scorer depends on.
type EvaluationStore interface {
	Upsert(ctx context.Context, storyID, evaluatorAgent string, rawCategories map[string]float64, notes string) (models.StoryEvaluation, error)
}

// StoryScoreStore is the subset of repository.StoryRepository the
// category scorer depends on.
type StoryScoreStore interface {
	RecomputeScore(ctx context.Context, id string) (float64, error)
}

// CategoryScorer persists one evaluator agent's category-scoring pass
// over a story and recomputes the story's aggregate score.
type CategoryScorer struct {
	evaluations EvaluationStore
	stories     StoryScoreStore
}

// NewCategoryScorer builds a CategoryScorer.
func NewCategoryScorer(evaluations EvaluationStore, stories StoryScoreStore) *CategoryScorer {
	return &CategoryScorer{evaluations: evaluations, stories: stories}
}

// Evaluate parses evaluatorOutput as an evaluator agent's category JSON,
// persists it as a StoryEvaluation attributed to oc.AgentName, and
// recomputes the story's score. Implements stepengine.EvaluationRunner.
func (c *CategoryScorer) Evaluate(oc opctx.Context, storyID, evaluatorOutput string) error {
	parsed, err := parseEvaluatorResponse(evaluatorOutput)
	if err != nil {
		return err
	}
	categories := models.NormalizeCategories(parsed.scores())
	if _, err := c.evaluations.Upsert(oc.Std(), storyID, oc.AgentName, categories, parsed.notes()); err != nil {
		return fmt.Errorf("persist evaluation: %w", err)
	}
	if _, err := c.stories.RecomputeScore(oc.Std(), storyID); err != nil {
		return fmt.Errorf("recompute story score: %w", err)
	}
	return nil
}

// extractJSONObject returns the substring from the first '{' to the
// last '}' in s, or "" if either is missing — a tolerant fallback for
// evaluator responses that wrap their JSON in prose or code fences.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// extractJSONArray is extractJSONObject's array-bracket counterpart.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
