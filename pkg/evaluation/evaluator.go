package evaluation

import (
	"context"
	"fmt"

	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// StoryContentReader is the subset of repository.StoryRepository the
// combined evaluator depends on to read back a story's current content
// for chunked coherence checking.
type StoryContentReader interface {
	Get(ctx context.Context, id string) (models.StoryRecord, error)
}

// Evaluator composes both evaluation modes of §4.6 behind the single
// stepengine.EvaluationRunner interface a task's IsEvaluationStep side
// effect calls: category scoring from the step's own output, followed
// by a chunked coherence pass over the story's accumulated content.
type Evaluator struct {
	categories *CategoryScorer
	coherence  *CoherenceEvaluator
	stories    StoryContentReader
}

// New builds an Evaluator. coherence may be nil to run category scoring
// only (e.g. a deployment with no coherence judge agent configured).
func New(categories *CategoryScorer, coherence *CoherenceEvaluator, stories StoryContentReader) *Evaluator {
	return &Evaluator{categories: categories, coherence: coherence, stories: stories}
}

// Evaluate runs the category-scoring pass over evaluatorOutput, then,
// if a CoherenceEvaluator is configured, re-reads the story's current
// content and runs the chunked coherence pass over it.
func (e *Evaluator) Evaluate(oc opctx.Context, storyID, evaluatorOutput string) error {
	if err := e.categories.Evaluate(oc, storyID, evaluatorOutput); err != nil {
		return fmt.Errorf("category scoring: %w", err)
	}
	if e.coherence == nil {
		return nil
	}
	story, err := e.stories.Get(oc.Std(), storyID)
	if err != nil {
		return fmt.Errorf("load story for coherence check: %w", err)
	}
	if err := e.coherence.Evaluate(oc, storyID, story.Content); err != nil {
		return fmt.Errorf("coherence check: %w", err)
	}
	return nil
}
