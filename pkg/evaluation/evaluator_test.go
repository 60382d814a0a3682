package evaluation

import (
	"context"
	"testing"

	"github.com/storyforge/engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStoryContentReader struct {
	content string
	err     error
}

func (f *fakeStoryContentReader) Get(ctx context.Context, id string) (models.StoryRecord, error) {
	if f.err != nil {
		return models.StoryRecord{}, f.err
	}
	return models.StoryRecord{ID: id, Content: f.content}, nil
}

func categoryOnlyOutput() string {
	return `{
		"narrative_coherence": {"score": 8},
		"originality": {"score": 6},
		"emotional_impact": {"score": 9},
		"action": {"score": 7}
	}`
}

func TestEvaluator_CategoryOnlyModeWhenCoherenceNil(t *testing.T) {
	evalStore := &fakeEvaluationStore{}
	scoreStore := &fakeStoryScoreStore{}
	categories := NewCategoryScorer(evalStore, scoreStore)
	stories := &fakeStoryContentReader{content: "never read"}

	e := New(categories, nil, stories)
	err := e.Evaluate(testOC(), "story-1", categoryOnlyOutput())

	require.NoError(t, err)
	assert.Equal(t, "story-1", evalStore.storyID)
	assert.True(t, scoreStore.recomputed)
}

func TestEvaluator_RunsCategoryThenCoherenceAgainstStoryContent(t *testing.T) {
	evalStore := &fakeEvaluationStore{}
	scoreStore := &fakeStoryScoreStore{}
	categories := NewCategoryScorer(evalStore, scoreStore)

	caller := newFakeChunkCaller()
	caller.byOperation["extract_chunk_facts"] = []models.GenerateResult{
		{Content: `["Aria is the hero"]`},
	}
	caller.byOperation["judge_story_coherence"] = []models.GenerateResult{
		{Content: `{"contradictions": [], "score": 9}`},
	}
	chunkStore := &fakeChunkStore{}
	coherence := NewCoherenceEvaluator(caller, testAgents(), chunkStore, "fact_extractor", "coherence_judge")

	stories := &fakeStoryContentReader{content: "Aria woke up in the tower."}

	e := New(categories, coherence, stories)
	err := e.Evaluate(testOC(), "story-1", categoryOnlyOutput())

	require.NoError(t, err)
	assert.True(t, scoreStore.recomputed)
	require.Len(t, chunkStore.upsertedFacts, 1)
	assert.Equal(t, []string{"Aria is the hero"}, chunkStore.upsertedFacts[0].Facts)
	assert.Equal(t, 9.0, chunkStore.globalScore)
}

func TestEvaluator_CategoryErrorShortCircuitsCoherence(t *testing.T) {
	evalStore := &fakeEvaluationStore{}
	scoreStore := &fakeStoryScoreStore{}
	categories := NewCategoryScorer(evalStore, scoreStore)

	caller := newFakeChunkCaller()
	chunkStore := &fakeChunkStore{}
	coherence := NewCoherenceEvaluator(caller, testAgents(), chunkStore, "fact_extractor", "coherence_judge")

	stories := &fakeStoryContentReader{content: "Aria woke up in the tower."}

	e := New(categories, coherence, stories)
	err := e.Evaluate(testOC(), "story-1", "not json at all")

	require.Error(t, err)
	assert.Empty(t, chunkStore.upsertedFacts)
}
