// Package tool holds the registry of tools the story engine's models may
// call. Tools are registered externally by the embedding application
// (e.g. a "look up a character" or "search prior chapters" handler) —
// this package only dispatches to them by name and serializes their
// result back onto the conversation.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/models"
)

// Handler executes one tool call, given its raw JSON arguments as the
// model sent them, and returns the content to feed back to the model.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Definition describes a tool's name, purpose, and JSON-Schema argument
// shape — mirrors the teacher's agent.ToolDefinition / MCP tool schema
// shape, narrowed to an in-process registry instead of an MCP transport.
type Definition struct {
	Name             string
	Description      string
	ParametersSchema json.RawMessage
}

type registeredTool struct {
	def     Definition
	handler Handler
}

// Registry holds registered tools keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds or replaces a tool under def.Name.
func (r *Registry) Register(def Definition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, handler: handler}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Specs returns the registered tools in the chatbridge.ToolSpec shape
// the bridge needs to advertise them to a model.
func (r *Registry) Specs() []chatbridge.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]chatbridge.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, chatbridge.ToolSpec{
			Name:             t.def.Name,
			Description:      t.def.Description,
			ParametersSchema: t.def.ParametersSchema,
		})
	}
	return specs
}

// unknownToolMessage is the tool-result content Dispatch returns for an
// unregistered tool name — never a Go error: the unknown name is fed
// back to the model as an observation it may recover from, not a
// terminal failure.
const unknownToolMessage = "unknown tool %q: not registered"

// Dispatch executes call and returns the tool-role conversation message
// to append, with the result (or error text) as its content. Dispatch
// itself never returns a Go error — a dispatch failure is always
// surfaced to the model as an ordinary (if unhelpful) tool result, so
// the ReAct sub-loop can keep going per spec.md §4.5 (unknown tool name
// or tool error: feed the error back, the model may recover).
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) models.ConversationMessage {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return toolMessage(call.ID, fmt.Sprintf(unknownToolMessage, call.Name))
	}

	content, err := t.handler(ctx, json.RawMessage(call.ArgumentsJSON))
	if err != nil {
		return toolMessage(call.ID, fmt.Sprintf("tool %q failed: %s", call.Name, err.Error()))
	}
	return toolMessage(call.ID, content)
}

func toolMessage(toolCallID, content string) models.ConversationMessage {
	return models.ConversationMessage{Role: "tool", Content: content, ToolCallID: toolCallID}
}
