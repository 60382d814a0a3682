package evaluation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// Caller is the subset of validator.Validator the coherence evaluator
// depends on to invoke its fact-extractor and coherence-judge agents.
type Caller interface {
	CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error)
}

// AgentLookup is the subset of config.AgentRegistry the coherence
// evaluator depends on.
type AgentLookup interface {
	MustGet(name string) (models.Agent, error)
}

// ChunkFactsStore is the subset of repository.CoherenceRepository the
// coherence evaluator depends on.
type ChunkFactsStore interface {
	UpsertChunkFacts(ctx context.Context, storyID string, chunkIndex, start, end int, facts []string) (models.ChunkFacts, error)
	UpsertGlobalCoherence(ctx context.Context, storyID string, contradictions []string, score float64) (models.GlobalCoherence, error)
}

// CoherenceEvaluator runs the chunked-coherence evaluation mode of
// §4.6: extract a fact list per ~1800-char chunk, then ask a judge agent
// to find contradictions across the extracted facts and score overall
// coherence.
type CoherenceEvaluator struct {
	caller         Caller
	agents         AgentLookup
	chunks         ChunkFactsStore
	factAgentName  string
	judgeAgentName string
}

// NewCoherenceEvaluator builds a CoherenceEvaluator. factAgentName names
// the agent that extracts facts from one chunk; judgeAgentName names the
// agent that cross-checks the extracted facts for contradictions.
func NewCoherenceEvaluator(caller Caller, agents AgentLookup, chunks ChunkFactsStore, factAgentName, judgeAgentName string) *CoherenceEvaluator {
	return &CoherenceEvaluator{caller: caller, agents: agents, chunks: chunks, factAgentName: factAgentName, judgeAgentName: judgeAgentName}
}

// Evaluate chunks content, extracts and persists facts per chunk, then
// persists the aggregated GlobalCoherence verdict for storyID.
func (e *CoherenceEvaluator) Evaluate(oc opctx.Context, storyID, content string) error {
	chunks := Chunk(content)
	if len(chunks) == 0 {
		return nil
	}

	persisted := make([]models.ChunkFacts, 0, len(chunks))
	for _, ch := range chunks {
		facts, err := e.extractFacts(oc, ch.Text)
		if err != nil {
			return fmt.Errorf("extract facts for chunk %d: %w", ch.Index, err)
		}
		cf, err := e.chunks.UpsertChunkFacts(oc.Std(), storyID, ch.Index, ch.Start, ch.End, facts)
		if err != nil {
			return fmt.Errorf("persist facts for chunk %d: %w", ch.Index, err)
		}
		persisted = append(persisted, cf)
	}

	contradictions, score, err := e.checkCoherence(oc, persisted)
	if err != nil {
		return fmt.Errorf("check coherence: %w", err)
	}
	if _, err := e.chunks.UpsertGlobalCoherence(oc.Std(), storyID, contradictions, score); err != nil {
		return fmt.Errorf("persist global coherence: %w", err)
	}
	return nil
}

func (e *CoherenceEvaluator) extractFacts(oc opctx.Context, chunkText string) ([]string, error) {
	agent, err := e.agents.MustGet(e.factAgentName)
	if err != nil {
		return nil, err
	}
	messages := []models.ConversationMessage{{
		Role: "user",
		Content: "Extract the discrete factual claims (character states, locations, objects, established rules) from the " +
			"following story excerpt. Respond with a JSON array of short fact strings, nothing else:\n\n" + chunkText,
	}}
	result, err := e.caller.CallWithValidation(oc.WithAgent(agent.Name, agent.Role), agent, messages, "extract_chunk_facts", chatbridge.CallOptions{})
	if err != nil {
		return nil, err
	}
	return parseStringArray(result.Content)
}

type coherenceVerdict struct {
	Contradictions []string `json:"contradictions"`
	Score          float64  `json:"score"`
}

func (e *CoherenceEvaluator) checkCoherence(oc opctx.Context, chunks []models.ChunkFacts) ([]string, float64, error) {
	agent, err := e.agents.MustGet(e.judgeAgentName)
	if err != nil {
		return nil, 0, err
	}
	payload, err := json.Marshal(chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("encode chunk facts for judge: %w", err)
	}
	messages := []models.ConversationMessage{{
		Role: "user",
		Content: "Here is a story's fact list broken into chunks, each with a chunk_index and its extracted facts. " +
			"Find any contradictions between chunks and score overall coherence from 0 to 10. Respond with JSON " +
			`{"contradictions": ["..."], "score": 0} and nothing else:` + "\n\n" + string(payload),
	}}
	result, err := e.caller.CallWithValidation(oc.WithAgent(agent.Name, agent.Role), agent, messages, "judge_story_coherence", chatbridge.CallOptions{})
	if err != nil {
		return nil, 0, err
	}

	var verdict coherenceVerdict
	if err := json.Unmarshal([]byte(result.Content), &verdict); err != nil {
		if obj := extractJSONObject(result.Content); obj != "" {
			if err2 := json.Unmarshal([]byte(obj), &verdict); err2 == nil {
				return verdict.Contradictions, verdict.Score, nil
			}
		}
		return nil, 0, fmt.Errorf("parse coherence verdict: %w", err)
	}
	return verdict.Contradictions, verdict.Score, nil
}

func parseStringArray(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if arr := extractJSONArray(raw); arr != "" {
			if err2 := json.Unmarshal([]byte(arr), &out); err2 == nil {
				return out, nil
			}
		}
		return nil, fmt.Errorf("parse fact list: %w", err)
	}
	return out, nil
}
