// Package validator wraps a fallback-controller call with response
// validation: deterministic checks, an optional LLM-judge check, and a
// bounded corrective-retry loop that feeds the rejection reason back
// into the conversation before trying again. Validator, fallback, and
// retry are deliberately one orchestrator (CallWithValidation) rather
// than three composed middlewares, per the design note that a response
// log row must exist before a verdict can be stamped onto it — that
// ordering is easiest to get right with a single call site owning both
// the bridge call and the verdict write.
package validator

import (
	"context"
	"fmt"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// FallbackRunner is the subset of fallback.Controller the validator
// depends on.
type FallbackRunner interface {
	Run(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, opts chatbridge.CallOptions, accept func(models.GenerateResult) error) (models.GenerateResult, error)
}

// DeterministicCheck inspects a result synchronously (no LLM call) and
// reports whether it passes, with a feedback string to inject into the
// conversation on rejection.
type DeterministicCheck interface {
	ID() string
	Check(result models.GenerateResult) (ok bool, feedback string)
}

// JudgeFunc invokes an LLM-judge agent to assess a result, returning
// whether it passes and, if not, feedback to inject on retry.
type JudgeFunc func(oc opctx.Context, judgeAgentName string, result models.GenerateResult) (ok bool, feedback string, err error)

// VerdictSink stamps the pass/fail verdict onto the already-logged
// model response row for a call.
type VerdictSink interface {
	StampVerdict(ctx context.Context, logID, verdict, detail string) error
}

// Validator composes a FallbackRunner with deterministic and judge
// checks under a bounded retry budget.
type Validator struct {
	fallback FallbackRunner
	checks   map[string]DeterministicCheck
	judge    JudgeFunc
	policies *config.ValidationPolicyRegistry
	verdicts VerdictSink
}

// New builds a Validator. judge and verdicts may be nil if the
// deployment runs no judge-based checks or doesn't need verdict
// persistence (e.g. in tests).
func New(fallbackRunner FallbackRunner, checks []DeterministicCheck, judge JudgeFunc, policies *config.ValidationPolicyRegistry, verdicts VerdictSink) *Validator {
	byID := make(map[string]DeterministicCheck, len(checks))
	for _, c := range checks {
		byID[c.ID()] = c
	}
	return &Validator{fallback: fallbackRunner, checks: byID, judge: judge, policies: policies, verdicts: verdicts}
}

// ErrValidationExhausted is returned when every retry failed validation.
type ErrValidationExhausted struct {
	OperationKey string
	LastFeedback string
}

func (e *ErrValidationExhausted) Error() string {
	return fmt.Sprintf("validator: %q exhausted its retry budget, last feedback: %s", e.OperationKey, e.LastFeedback)
}

// CallWithValidation runs agent's fallback chain, validating each
// accepted candidate against the operation's policy and retrying with
// injected feedback up to policy.MaxRetries times before giving up.
func (v *Validator) CallWithValidation(oc opctx.Context, agent models.Agent, messages []models.ConversationMessage, operationKey string, opts chatbridge.CallOptions) (models.GenerateResult, error) {
	policy := v.policies.Get(operationKey)
	opts.OperationKey = operationKey

	conversation := messages
	var lastFeedback string

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		opts.Attempt = attempt + 1
		result, err := v.fallback.Run(oc, agent, conversation, opts, func(models.GenerateResult) error { return nil })
		if err != nil {
			return models.GenerateResult{}, fmt.Errorf("validate %q: %w", operationKey, err)
		}

		ok, feedback := v.runDeterministicChecks(policy.DeterministicIDs, result)
		if ok && policy.JudgeAgentName != "" && v.judge != nil {
			ok, feedback, err = v.judge(oc, policy.JudgeAgentName, result)
			if err != nil {
				return models.GenerateResult{}, fmt.Errorf("judge %q: %w", operationKey, err)
			}
		}

		v.stampVerdict(oc, result.LogID, ok, feedback)

		if ok {
			return result, nil
		}

		lastFeedback = feedback
		conversation = append(append([]models.ConversationMessage{}, conversation...), models.ConversationMessage{
			Role:    "user",
			Content: "Your previous response was rejected: " + feedback + ". Please revise and try again.",
		})
	}

	return models.GenerateResult{}, &ErrValidationExhausted{OperationKey: operationKey, LastFeedback: lastFeedback}
}

// stampVerdict attaches the pass/fail verdict to the response log row the
// bridge already flushed. A call with no LogSink configured, or a result
// from a bridge without logging wired in, has no row to stamp and is a
// silent no-op rather than an error.
func (v *Validator) stampVerdict(oc opctx.Context, logID string, ok bool, detail string) {
	if v.verdicts == nil || logID == "" {
		return
	}
	verdict := "rejected"
	if ok {
		verdict = "accepted"
	}
	// Best-effort: a verdict-write failure must never fail the
	// orchestration operation it is observing.
	_ = v.verdicts.StampVerdict(oc.Std(), logID, verdict, detail)
}

func (v *Validator) runDeterministicChecks(ids []string, result models.GenerateResult) (bool, string) {
	for _, id := range ids {
		check, ok := v.checks[id]
		if !ok {
			continue
		}
		if passed, feedback := check.Check(result); !passed {
			return false, feedback
		}
	}
	return true, ""
}
