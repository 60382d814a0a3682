// Package react runs the tool-call sub-loop within a single step: call
// the bridge, dispatch any tool calls it returns, feed results back, and
// repeat until a response carries no tool calls or the iteration cap is
// reached. The loop shape (accumulate messages, re-invoke, terminate on
// no-tool-calls-or-cap) is grounded on the teacher's ReActController; the
// wire format is native structured tool_calls[], not text parsing.
package react

import (
	"errors"
	"fmt"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/storyforge/engine/pkg/tool"
)

// Caller is the subset of the validator/fallback call path the loop
// depends on to make one model call per iteration.
type Caller interface {
	CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error)
}

// Loop drives the tool-call sub-loop for one step.
type Loop struct {
	caller        Caller
	tools         *tool.Registry
	maxIterations int
}

// New builds a Loop. maxIterations is the total number of model calls
// one Run may make, the first call included — loop termination is a
// correctness requirement, not a tuning knob.
func New(caller Caller, tools *tool.Registry, maxIterations int) *Loop {
	return &Loop{caller: caller, tools: tools, maxIterations: maxIterations}
}

// ErrIterationCapReached is returned when the model keeps returning
// tool calls past the configured cap without producing a final answer.
var ErrIterationCapReached = errors.New("react: tool-call iteration cap reached without a final answer")

// Run executes messages against caller, dispatching any tool calls the
// model requests via tools, until a response carries no tool calls; if
// all maxIterations calls return tool calls it stops with
// ErrIterationCapReached. It returns the final textual result and the full conversation including
// every tool round, so the step engine can persist the exchange.
func (l *Loop) Run(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, []models.ConversationMessage, error) {
	if l.tools != nil {
		opts.Tools = l.tools.Specs()
	}

	conversation := append([]models.ConversationMessage{}, messages...)

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		result, err := l.caller.CallWithValidation(oc, agent, conversation, operationKey, opts)
		if err != nil {
			return models.GenerateResult{}, conversation, fmt.Errorf("react iteration %d: %w", iteration+1, err)
		}

		if len(result.ToolCalls) == 0 {
			conversation = append(conversation, models.ConversationMessage{Role: "assistant", Content: result.Content})
			return result, conversation, nil
		}

		conversation = append(conversation, models.ConversationMessage{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			toolMsg := l.dispatch(oc, call)
			conversation = append(conversation, toolMsg)
		}
	}

	return models.GenerateResult{}, conversation, ErrIterationCapReached
}

func (l *Loop) dispatch(oc opctx.Context, call models.ToolCall) models.ConversationMessage {
	if l.tools == nil {
		return models.ConversationMessage{
			Role:       "tool",
			Content:    fmt.Sprintf("no tool registry configured; cannot dispatch %q", call.Name),
			ToolCallID: call.ID,
		}
	}
	return l.tools.Dispatch(oc.Std(), call)
}
