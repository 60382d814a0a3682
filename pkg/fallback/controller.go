// Package fallback walks an agent's ranked candidate models until one
// produces a response the caller accepts, cloning the conversation per
// candidate so a rejected candidate's tool-call history never leaks
// into the next candidate's context.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// Bridge is the subset of chatbridge.Bridge the controller depends on.
type Bridge interface {
	Call(oc opctx.Context, model models.Model, messages []models.ConversationMessage, opts chatbridge.CallOptions) (models.GenerateResult, error)
}

// UsageRecorder persists the outcome of each candidate attempt.
type UsageRecorder interface {
	RecordOutcome(ctx context.Context, modelName, agentName string, outcome models.FallbackOutcome) error
}

// Controller walks an Agent's ranked model list until the accept
// callback approves one candidate's result, or every candidate has been
// exhausted. accept returning a non-nil error rejects the candidate and
// moves on to the next one. The response validator passes an accept
// that approves every result, so on that path the controller moves on
// only when a bridge call fails.
type Controller struct {
	bridge Bridge
	models *config.ModelRegistry
	usage  UsageRecorder
}

// New builds a Controller.
func New(bridge Bridge, modelRegistry *config.ModelRegistry, usage UsageRecorder) *Controller {
	return &Controller{bridge: bridge, models: modelRegistry, usage: usage}
}

// ErrAllCandidatesExhausted is returned when no candidate model's result
// was accepted.
var ErrAllCandidatesExhausted = errors.New("fallback: all candidate models exhausted")

// Run tries agent.Models in order, cloning messages per candidate, and
// returns the first result accept approves.
func (c *Controller) Run(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, opts chatbridge.CallOptions, accept func(models.GenerateResult) error) (models.GenerateResult, error) {
	var lastErr error
	for _, modelName := range agent.Models {
		model, err := c.models.MustGet(modelName)
		if err != nil {
			lastErr = err
			continue
		}

		candidateMessages := cloneMessages(messages)
		result, err := c.bridge.Call(oc.WithAgent(agent.Name, agent.Role), model, candidateMessages, opts)
		if err != nil {
			c.record(oc, model.Name, agent.Name, models.FallbackErrored)
			lastErr = err
			continue
		}

		if err := accept(result); err != nil {
			c.record(oc, model.Name, agent.Name, models.FallbackRejected)
			lastErr = err
			continue
		}

		c.record(oc, model.Name, agent.Name, models.FallbackSucceeded)
		return result, nil
	}
	if lastErr != nil {
		return models.GenerateResult{}, fmt.Errorf("%w: %v", ErrAllCandidatesExhausted, lastErr)
	}
	return models.GenerateResult{}, ErrAllCandidatesExhausted
}

func (c *Controller) record(oc opctx.Context, modelName, agentName string, outcome models.FallbackOutcome) {
	if c.usage == nil {
		return
	}
	// Best-effort: a usage-tally write failure must never fail the
	// orchestration operation it is observing.
	_ = c.usage.RecordOutcome(oc.Std(), modelName, agentName, outcome)
}

func cloneMessages(messages []models.ConversationMessage) []models.ConversationMessage {
	out := make([]models.ConversationMessage, len(messages))
	copy(out, messages)
	return out
}
