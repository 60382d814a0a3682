package models

import (
	"strconv"
	"time"
)

// UsageState is the fallback controller's running tally per (model,
// agent) pair: how often a candidate has succeeded, and how often it
// errored or was rejected. It is recorded only; the controller tries an
// agent's models in their configured order and does not read it.
type UsageState struct {
	ModelName     string    `json:"model_name"`
	AgentName     string    `json:"agent_name"`
	SuccessCount  int64     `json:"success_count"`
	FailureCount  int64     `json:"failure_count"`
	LastOutcome   FallbackOutcome `json:"last_outcome,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// SuccessRate returns the empirical success rate, defaulting to a
// neutral 0.5 when no observations exist yet so a never-tried candidate
// isn't penalized relative to one with a single failure.
func (u UsageState) SuccessRate() float64 {
	total := u.SuccessCount + u.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(u.SuccessCount) / float64(total)
}

// NumeratorState tracks the in-flight singleflight key for a lazily
// computed step summary ({{STEP_k_SUMMARY}} / {{STEPS_a-b_SUMMARY}}
// placeholders), so concurrent step interpolations for the same task
// share one summarization call instead of issuing duplicate requests.
type NumeratorState struct {
	TaskID    string `json:"task_id"`
	RangeFrom int    `json:"range_from"`
	RangeTo   int    `json:"range_to"`
}

// Key returns the singleflight dedupe key for this summary range.
func (n NumeratorState) Key() string {
	return n.TaskID + ":" + strconv.Itoa(n.RangeFrom) + "-" + strconv.Itoa(n.RangeTo)
}
