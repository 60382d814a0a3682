package chatbridge

import (
	"testing"

	"github.com/storyforge/engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest_ExcludesConfiguredParams(t *testing.T) {
	temp := 0.7
	model := models.Model{
		Name: "strict-model", Backend: models.BackendOpenAI, APIModel: "gpt-4o",
		ExcludedParams: []string{"temperature"}, Temperature: &temp,
	}
	body, err := buildRequest(model, nil, CallOptions{})
	require.NoError(t, err)
	assert.NotContains(t, body, "temperature")
}

func TestBuildRequest_MaxTokensParamSelection(t *testing.T) {
	maxTokens := 500
	reasoning := models.Model{Name: "o3", Backend: models.BackendOpenAI, APIModel: "o3-mini"}
	legacy := models.Model{Name: "gpt4", Backend: models.BackendOpenAI, APIModel: "gpt-4"}

	reasoningBody, err := buildRequest(reasoning, nil, CallOptions{MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, 500, reasoningBody["max_completion_tokens"])
	assert.NotContains(t, reasoningBody, "max_tokens")

	legacyBody, err := buildRequest(legacy, nil, CallOptions{MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, 500, legacyBody["max_tokens"])
}

func TestBuildRequest_RejectsToolsWhenUnsupported(t *testing.T) {
	model := models.Model{Name: "no-tools", Backend: models.BackendOllama, APIModel: "llama3", SupportsTools: false}
	_, err := buildRequest(model, nil, CallOptions{Tools: []ToolSpec{{Name: "lookup"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelRejectsTools)
}

func TestEndpointFor(t *testing.T) {
	assert.Equal(t, "http://host/api/chat", endpointFor(models.Model{Backend: models.BackendOllama, BaseURL: "http://host"}))
	assert.Equal(t, "http://host/v1/chat/completions", endpointFor(models.Model{Backend: models.BackendOpenAI, BaseURL: "http://host"}))
}
