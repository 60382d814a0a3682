package chatbridge

import (
	"encoding/json"
	"fmt"

	"github.com/storyforge/engine/pkg/models"
)

// The three response shapes this parser tolerates:
//
//  1. OpenAI chat-completions: {"choices":[{"message":{"content":...,"tool_calls":[...]}}]}
//  2. Ollama /api/chat:        {"message":{"content":...,"tool_calls":[...]}}
//  3. A bare message object:   {"content":...,"tool_calls":[...]}
//
// Deployments behind an OpenAI-compatible gateway sometimes collapse (1)
// down to (3) when there's exactly one choice; Ollama always emits (2).
// parseResponse tries each shape in turn rather than branching on
// model.Backend, since the two are observed to vary independently of
// the configured backend in practice.
func parseResponse(backend models.LLMBackend, raw []byte) (models.GenerateResult, error) {
	var openAIShape struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(raw, &openAIShape); err == nil {
		if openAIShape.Error != nil {
			return models.GenerateResult{}, fmt.Errorf("%w: %s", ErrProviderHTTP, openAIShape.Error.Message)
		}
		if len(openAIShape.Choices) > 0 {
			return fromWireMessage(openAIShape.Choices[0].Message), nil
		}
	}

	var ollamaShape struct {
		Message wireMessage `json:"message"`
		Error   string      `json:"error"`
	}
	if err := json.Unmarshal(raw, &ollamaShape); err == nil {
		if ollamaShape.Error != "" {
			return models.GenerateResult{}, fmt.Errorf("%w: %s", ErrProviderHTTP, ollamaShape.Error)
		}
		if ollamaShape.Message.Content != "" || len(ollamaShape.Message.ToolCalls) > 0 {
			return fromWireMessage(ollamaShape.Message), nil
		}
	}

	var bareShape wireMessage
	if err := json.Unmarshal(raw, &bareShape); err == nil {
		if bareShape.Content != "" || len(bareShape.ToolCalls) > 0 {
			return fromWireMessage(bareShape), nil
		}
	}

	return models.GenerateResult{}, fmt.Errorf("%w: response matched none of the known shapes", ErrUnparseableResponse)
}

type wireMessage struct {
	Content   string          `json:"content"`
	ToolCalls []wireToolCall  `json:"tool_calls"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireError struct {
	Message string `json:"message"`
}

func fromWireMessage(m wireMessage) models.GenerateResult {
	result := models.GenerateResult{Content: m.Content}
	for _, tc := range m.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	return result
}
