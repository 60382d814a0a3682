package models

import "time"

// Model is a configured, callable LLM backend. Model.Name is the
// user-facing identifier referenced by Agent and fallback rankings;
// Model.APIModel is the string sent on the wire to the provider.
type Model struct {
	Name             string        `yaml:"name" json:"name" validate:"required"`
	Backend          LLMBackend    `yaml:"backend" json:"backend" validate:"required,oneof=openai ollama"`
	BaseURL          string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	APIModel         string        `yaml:"api_model" json:"api_model" validate:"required"`
	APIKeyEnv        string        `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	SupportsTools    bool          `yaml:"supports_tools" json:"supports_tools"`
	ExcludedParams   []string      `yaml:"excluded_params,omitempty" json:"excluded_params,omitempty"`
	MaxTokensParam   string        `yaml:"max_tokens_param,omitempty" json:"max_tokens_param,omitempty"`
	RequestTimeout   time.Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	Temperature      *float64      `yaml:"temperature,omitempty" json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
}

// ResolvedMaxTokensParam returns the JSON field name used to cap output
// tokens for this model: an explicit override, or a pattern-based guess
// for the newer OpenAI reasoning-model family which rejects "max_tokens".
func (m Model) ResolvedMaxTokensParam() string {
	if m.MaxTokensParam != "" {
		return m.MaxTokensParam
	}
	if m.Backend == BackendOpenAI && usesMaxCompletionTokens(m.APIModel) {
		return "max_completion_tokens"
	}
	return "max_tokens"
}

func usesMaxCompletionTokens(apiModel string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if len(apiModel) >= len(prefix) && apiModel[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ExcludesParam reports whether field is in this model's exclusion set,
// used by the chat bridge to drop parameters a given deployment rejects.
func (m Model) ExcludesParam(field string) bool {
	for _, p := range m.ExcludedParams {
		if p == field {
			return true
		}
	}
	return false
}
