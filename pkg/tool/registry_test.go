package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/storyforge/engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DispatchKnownTool(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "lookup_name", Description: "look up a character name"},
		func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Hint string `json:"hint"`
			}
			require.NoError(t, json.Unmarshal(args, &in))
			return "Aria", nil
		})

	msg := r.Dispatch(context.Background(), models.ToolCall{ID: "call-1", Name: "lookup_name", ArgumentsJSON: `{"hint":"hero"}`})

	assert.Equal(t, "tool", msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Equal(t, "Aria", msg.Content)
}

func TestRegistry_DispatchUnknownToolFeedsBackError(t *testing.T) {
	r := NewRegistry()
	msg := r.Dispatch(context.Background(), models.ToolCall{ID: "call-2", Name: "does_not_exist", ArgumentsJSON: `{}`})

	assert.Equal(t, "tool", msg.Role)
	assert.Contains(t, msg.Content, "does_not_exist")
	assert.Contains(t, msg.Content, "not registered")
}

func TestRegistry_DispatchHandlerErrorFeedsBackError(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "flaky"}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", assertErr
	})

	msg := r.Dispatch(context.Background(), models.ToolCall{ID: "call-3", Name: "flaky"})

	assert.Contains(t, msg.Content, "flaky")
	assert.Contains(t, msg.Content, "boom")
}

func TestRegistry_Specs(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "a", Description: "first"}, func(context.Context, json.RawMessage) (string, error) { return "", nil })
	r.Register(Definition{Name: "b", Description: "second"}, func(context.Context, json.RawMessage) (string, error) { return "", nil })

	specs := r.Specs()
	assert.Len(t, specs, 2)
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))
}

var assertErr = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
