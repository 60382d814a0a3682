package evaluation

import (
	"context"
	"fmt"
	"testing"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunkCaller struct {
	byOperation map[string][]models.GenerateResult
	calls       map[string]int
}

func newFakeChunkCaller() *fakeChunkCaller {
	return &fakeChunkCaller{byOperation: map[string][]models.GenerateResult{}, calls: map[string]int{}}
}

func (f *fakeChunkCaller) CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error) {
	i := f.calls[operationKey]
	f.calls[operationKey] = i + 1
	results := f.byOperation[operationKey]
	if i >= len(results) {
		return models.GenerateResult{}, fmt.Errorf("no scripted result %d for %s", i, operationKey)
	}
	return results[i], nil
}

type fakeAgentLookup struct {
	agents map[string]models.Agent
}

func (f *fakeAgentLookup) MustGet(name string) (models.Agent, error) {
	a, ok := f.agents[name]
	if !ok {
		return models.Agent{}, fmt.Errorf("agent %q not configured", name)
	}
	return a, nil
}

type fakeChunkStore struct {
	upsertedFacts []models.ChunkFacts
	globalScore   float64
	contradictions []string
}

func (f *fakeChunkStore) UpsertChunkFacts(ctx context.Context, storyID string, chunkIndex, start, end int, facts []string) (models.ChunkFacts, error) {
	cf := models.ChunkFacts{StoryID: storyID, ChunkIndex: chunkIndex, StartOffset: start, EndOffset: end, Facts: facts}
	f.upsertedFacts = append(f.upsertedFacts, cf)
	return cf, nil
}

func (f *fakeChunkStore) UpsertGlobalCoherence(ctx context.Context, storyID string, contradictions []string, score float64) (models.GlobalCoherence, error) {
	f.contradictions = contradictions
	f.globalScore = score
	return models.GlobalCoherence{StoryID: storyID, Contradictions: contradictions, Score: score}, nil
}

func testAgents() *fakeAgentLookup {
	return &fakeAgentLookup{agents: map[string]models.Agent{
		"fact_extractor": {Name: "fact_extractor", Role: "fact_extractor", Models: []string{"primary"}},
		"coherence_judge": {Name: "coherence_judge", Role: "coherence_judge", Models: []string{"primary"}},
	}}
}

func TestCoherenceEvaluator_ExtractsFactsPerChunkAndAggregates(t *testing.T) {
	caller := newFakeChunkCaller()
	caller.byOperation["extract_chunk_facts"] = []models.GenerateResult{
		{Content: `["Aria is the hero"]`},
	}
	caller.byOperation["judge_story_coherence"] = []models.GenerateResult{
		{Content: `{"contradictions": [], "score": 9.5}`},
	}
	store := &fakeChunkStore{}

	e := NewCoherenceEvaluator(caller, testAgents(), store, "fact_extractor", "coherence_judge")
	err := e.Evaluate(testOC(), "story-1", "Aria woke up in the tower.")

	require.NoError(t, err)
	require.Len(t, store.upsertedFacts, 1)
	assert.Equal(t, []string{"Aria is the hero"}, store.upsertedFacts[0].Facts)
	assert.Equal(t, 9.5, store.globalScore)
	assert.Empty(t, store.contradictions)
}

func TestCoherenceEvaluator_ReportsContradictions(t *testing.T) {
	caller := newFakeChunkCaller()
	caller.byOperation["extract_chunk_facts"] = []models.GenerateResult{
		{Content: `["Aria has brown hair"]`},
		{Content: `["Aria has blonde hair"]`},
	}
	caller.byOperation["judge_story_coherence"] = []models.GenerateResult{
		{Content: `{"contradictions": ["Aria's hair color changes between chunks"], "score": 4}`},
	}
	store := &fakeChunkStore{}

	longText := make([]byte, chunkTarget*2)
	for i := range longText {
		longText[i] = 'a'
	}
	longText[chunkTarget-1] = '.'

	e := NewCoherenceEvaluator(caller, testAgents(), store, "fact_extractor", "coherence_judge")
	err := e.Evaluate(testOC(), "story-1", string(longText))

	require.NoError(t, err)
	require.Len(t, store.upsertedFacts, 2)
	assert.Equal(t, []string{"Aria's hair color changes between chunks"}, store.contradictions)
	assert.Equal(t, 4.0, store.globalScore)
}

func TestCoherenceEvaluator_EmptyContentIsNoop(t *testing.T) {
	caller := newFakeChunkCaller()
	store := &fakeChunkStore{}

	e := NewCoherenceEvaluator(caller, testAgents(), store, "fact_extractor", "coherence_judge")
	err := e.Evaluate(testOC(), "story-1", "")

	require.NoError(t, err)
	assert.Empty(t, store.upsertedFacts)
}
