package chatbridge

import (
	"fmt"
	"os"

	"github.com/storyforge/engine/pkg/models"
)

// endpointFor returns the wire endpoint for model's backend dialect.
func endpointFor(model models.Model) string {
	switch model.Backend {
	case models.BackendOllama:
		return model.BaseURL + "/api/chat"
	default:
		return model.BaseURL + "/v1/chat/completions"
	}
}

func apiKeyFor(model models.Model) string {
	if model.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(model.APIKeyEnv)
}

// buildRequest assembles the wire body for model, excluding any
// parameter model.ExcludesParam names and selecting the correct
// max-tokens field name for OpenAI's newer reasoning-model family.
func buildRequest(model models.Model, messages []models.ConversationMessage, opts CallOptions) (map[string]any, error) {
	body := map[string]any{
		"model":    model.APIModel,
		"messages": encodeMessages(messages),
	}

	if !model.ExcludesParam("temperature") {
		if opts.Temperature != nil {
			body["temperature"] = *opts.Temperature
		} else if model.Temperature != nil {
			body["temperature"] = *model.Temperature
		}
	}

	if opts.MaxTokens != nil && !model.ExcludesParam(model.ResolvedMaxTokensParam()) {
		body[model.ResolvedMaxTokensParam()] = *opts.MaxTokens
	}

	if len(opts.Tools) > 0 {
		if !model.SupportsTools {
			return nil, fmt.Errorf("%w: model %q does not support tools", ErrModelRejectsTools, model.Name)
		}
		body["tools"] = encodeTools(opts.Tools)
	}

	// Ollama's /api/chat streams by default; both dialects are asked
	// for a single non-streamed response body.
	body["stream"] = false

	return body, nil
}

func encodeMessages(messages []models.ConversationMessage) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.ArgumentsJSON,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		out = append(out, entry)
	}
	return out
}

func encodeTools(tools []ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.ParametersSchema,
			},
		})
	}
	return out
}
