package config

// Defaults contains system-wide default configurations used when a more
// specific component doesn't override them.
type Defaults struct {
	// MaxToolIterations caps the ReAct tool-call sub-loop: the total
	// number of model calls one react.Loop.Run may make. Reaching the cap
	// makes Run return react.ErrIterationCapReached.
	MaxToolIterations int `yaml:"max_tool_iterations,omitempty" validate:"omitempty,min=1"`

	// MinOutputChars is the floor handed to the validator's
	// non_empty_output check, which runs for operations whose
	// ValidationPolicy lists it. A StepTemplate's own MinOutputChars is
	// separate: a step that leaves it unset has no step-level floor.
	MinOutputChars int `yaml:"min_output_chars,omitempty" validate:"omitempty,min=1"`

	// ValidationMaxRetries is loaded and validated with the other
	// defaults. ValidationPolicyRegistry.Get does not read it: an
	// operation with no ValidationPolicy entry gets zero retries.
	ValidationMaxRetries int `yaml:"validation_max_retries,omitempty" validate:"omitempty,min=0"`

	// SummarizerAgentName names the agent the step engine calls to
	// produce {{STEP_k_SUMMARY}} / {{STEPS_a-b_SUMMARY}} placeholder
	// text, matching spec.md's `summarizer` role.
	SummarizerAgentName string `yaml:"summarizer_agent,omitempty" validate:"omitempty"`

	// FactExtractorAgentName names the agent pkg/evaluation calls once
	// per chunk during the coherence pass to extract discrete factual
	// claims from that chunk's text.
	FactExtractorAgentName string `yaml:"fact_extractor_agent,omitempty" validate:"omitempty"`

	// CoherenceJudgeAgentName names the agent pkg/evaluation calls once
	// per coherence pass to find contradictions across every chunk's
	// extracted facts and score overall coherence.
	CoherenceJudgeAgentName string `yaml:"coherence_judge_agent,omitempty" validate:"omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		MaxToolIterations:       8,
		MinOutputChars:          200,
		ValidationMaxRetries:    2,
		SummarizerAgentName:     "summarizer",
		FactExtractorAgentName:  "fact_extractor",
		CoherenceJudgeAgentName: "coherence_judge",
	}
}
