package evaluation

import (
	"context"
	"testing"

	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluationStore struct {
	storyID        string
	evaluatorAgent string
	categories     map[string]float64
	notes          string
}

func (f *fakeEvaluationStore) Upsert(ctx context.Context, storyID, evaluatorAgent string, rawCategories map[string]float64, notes string) (models.StoryEvaluation, error) {
	f.storyID = storyID
	f.evaluatorAgent = evaluatorAgent
	f.categories = rawCategories
	f.notes = notes
	return models.StoryEvaluation{}, nil
}

type fakeStoryScoreStore struct {
	recomputed bool
}

func (f *fakeStoryScoreStore) RecomputeScore(ctx context.Context, id string) (float64, error) {
	f.recomputed = true
	return 7.5, nil
}

func testOC() opctx.Context {
	return opctx.New(context.Background(), "task-1", "thread-1").WithAgent("evaluator", "response_checker")
}

func TestCategoryScorer_ParsesAndPersistsScores(t *testing.T) {
	store := &fakeEvaluationStore{}
	scores := &fakeStoryScoreStore{}
	c := NewCategoryScorer(store, scores)

	raw := `{
		"narrative_coherence": {"score": 8, "defects": ["minor timeline slip"]},
		"originality": {"score": 6},
		"emotional_impact": {"score": 9},
		"action": {"score": 7}
	}`

	err := c.Evaluate(testOC(), "story-1", raw)

	require.NoError(t, err)
	assert.Equal(t, "story-1", store.storyID)
	assert.Equal(t, "evaluator", store.evaluatorAgent)
	assert.Equal(t, 8.0, store.categories[models.CategoryNarrativeCoherence])
	assert.Equal(t, 6.0, store.categories[models.CategoryOriginality])
	assert.Equal(t, 9.0, store.categories[models.CategoryEmotionalImpact])
	assert.Equal(t, 7.0, store.categories[models.CategoryAction])
	assert.Contains(t, store.notes, "minor timeline slip")
	assert.True(t, scores.recomputed)
}

func TestCategoryScorer_PacingAliasFoldsIntoAction(t *testing.T) {
	store := &fakeEvaluationStore{}
	scores := &fakeStoryScoreStore{}
	c := NewCategoryScorer(store, scores)

	raw := `{
		"narrative_coherence": {"score": 8},
		"originality": {"score": 6},
		"emotional_impact": {"score": 9},
		"pacing": {"score": 5}
	}`

	err := c.Evaluate(testOC(), "story-1", raw)

	require.NoError(t, err)
	assert.Equal(t, 5.0, store.categories[models.CategoryAction])
	_, hasPacing := store.categories["pacing"]
	assert.False(t, hasPacing)
}

func TestCategoryScorer_ToleratesJSONWrappedInProse(t *testing.T) {
	store := &fakeEvaluationStore{}
	scores := &fakeStoryScoreStore{}
	c := NewCategoryScorer(store, scores)

	raw := "Here is my evaluation:\n```json\n" +
		`{"narrative_coherence": {"score": 8}, "originality": {"score": 6}, "emotional_impact": {"score": 9}, "action": {"score": 7}}` +
		"\n```\nHope that helps!"

	err := c.Evaluate(testOC(), "story-1", raw)

	require.NoError(t, err)
	assert.Equal(t, 7.0, store.categories[models.CategoryAction])
}

func TestCategoryScorer_InvalidJSONReturnsError(t *testing.T) {
	store := &fakeEvaluationStore{}
	scores := &fakeStoryScoreStore{}
	c := NewCategoryScorer(store, scores)

	err := c.Evaluate(testOC(), "story-1", "not json at all")

	require.Error(t, err)
}
