package chatbridge

import (
	"testing"

	"github.com/storyforge/engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse_OpenAIShape(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":"hello","tool_calls":[{"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":1}"}}]}}]}`)
	result, err := parseResponse(models.BackendOpenAI, raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "lookup", result.ToolCalls[0].Name)
}

func TestParseResponse_OllamaShape(t *testing.T) {
	raw := []byte(`{"message":{"content":"hi there"}}`)
	result, err := parseResponse(models.BackendOllama, raw)
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Content)
	assert.Empty(t, result.ToolCalls)
}

func TestParseResponse_BareMessageShape(t *testing.T) {
	raw := []byte(`{"content":"direct reply"}`)
	result, err := parseResponse(models.BackendOpenAI, raw)
	require.NoError(t, err)
	assert.Equal(t, "direct reply", result.Content)
}

func TestParseResponse_OpenAIErrorField(t *testing.T) {
	raw := []byte(`{"error":{"message":"rate limited"}}`)
	_, err := parseResponse(models.BackendOpenAI, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderHTTP)
}

func TestParseResponse_Unrecognized(t *testing.T) {
	raw := []byte(`{"unexpected":true}`)
	_, err := parseResponse(models.BackendOpenAI, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnparseableResponse)
}
