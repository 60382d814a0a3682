package models

import (
	"strings"
	"unicode"
)

// ValidationPolicy governs how the response validator treats a given
// operation key (e.g. "test_voice_tags", "step_outline"): which
// deterministic checks run, whether an LLM-judge checker also runs, and
// how many corrective retries are attempted. Once the retries are used
// up the call fails with validator.ErrValidationExhausted; a validation
// rejection does not move the fallback controller on to another
// candidate model.
type ValidationPolicy struct {
	OperationKey     string   `yaml:"operation_key" json:"operation_key" validate:"required"`
	DeterministicIDs []string `yaml:"deterministic_checks,omitempty" json:"deterministic_checks,omitempty"`
	JudgeAgentName   string   `yaml:"judge_agent,omitempty" json:"judge_agent,omitempty"`
	MaxRetries       int      `yaml:"max_retries" json:"max_retries" validate:"min=0"`
}

// NormalizeOperationKey maps a call site's natural scope down to the
// coarser key ValidationPolicy entries are keyed on: a
// "tests/<group>/<model>" scope becomes "test_<group>", e.g.
// "tests/voice_tags/gpt-4o" -> "test_voice_tags"; any other input is
// taken as the group itself. The group is lowercased and every
// character other than a letter or digit becomes '_'.
func NormalizeOperationKey(scope string) string {
	group := scope
	if parts := strings.Split(scope, "/"); len(parts) == 3 && parts[0] == "tests" {
		group = parts[1]
	}
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, strings.ToLower(group))
	return "test_" + normalized
}
