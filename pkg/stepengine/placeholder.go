package stepengine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"golang.org/x/sync/singleflight"
)

var (
	stepPattern        = regexp.MustCompile(`\{\{STEP_(\d+)\}\}`)
	stepExtractPattern = regexp.MustCompile(`\{\{STEP_(\d+)_EXTRACT:([^}]+)\}\}`)
	stepSummaryPattern = regexp.MustCompile(`\{\{STEP_(\d+)_SUMMARY\}\}`)
	stepsRangePattern  = regexp.MustCompile(`\{\{STEPS_(\d+)-(\d+)_SUMMARY\}\}`)

	sectionHeadingPattern = regexp.MustCompile(`(?im)^#{1,6}\s*(.+?)\s*$`)
)

// StepOutputReader is the subset of TaskExecutionRepository placeholder
// resolution needs.
type StepOutputReader interface {
	StepOutput(ctx context.Context, taskID string, idx int) (string, error)
	StepOutputsInRange(ctx context.Context, taskID string, from, to int) ([]string, error)
}

// Summarizer condenses text via the configured summarizer agent.
type Summarizer func(oc opctx.Context, text string) (string, error)

// PlaceholderResolver resolves {{STEP_k}}-family placeholders in a step's
// prompt template, one instance per TaskExecution so its summary cache is
// scoped to a single run. Grounded on the teacher's templated-prompt
// assembly in pkg/agent/prompt/builder.go, generalized from a fixed
// section-by-section assembly into a regexp dispatch table over an
// arbitrary instruction string.
type PlaceholderResolver struct {
	steps     StepOutputReader
	summarize Summarizer
	taskID    string
	mu        sync.Mutex
	cache     map[string]string
	flightGrp singleflight.Group
}

// NewPlaceholderResolver builds a resolver for one TaskExecution.
func NewPlaceholderResolver(steps StepOutputReader, summarize Summarizer, taskID string) *PlaceholderResolver {
	return &PlaceholderResolver{steps: steps, summarize: summarize, taskID: taskID, cache: make(map[string]string)}
}

// Resolve expands every placeholder in template, in the order: ranged
// summaries, single-step extracts, single-step summaries, then raw step
// references. The four placeholder kinds have disjoint syntax (distinct
// required suffixes before the closing `}}`), so resolving them in any
// order over independent regexps is safe — none can match a substring
// the others also match.
func (r *PlaceholderResolver) Resolve(oc opctx.Context, template string) (string, error) {
	out := template

	var resolveErr error
	out = stepsRangePattern.ReplaceAllStringFunc(out, func(m string) string {
		if resolveErr != nil {
			return m
		}
		groups := stepsRangePattern.FindStringSubmatch(m)
		from, _ := strconv.Atoi(groups[1])
		to, _ := strconv.Atoi(groups[2])
		text, err := r.resolveRangeSummary(oc, from, to)
		if err != nil {
			resolveErr = err
			return m
		}
		return text
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	out = stepExtractPattern.ReplaceAllStringFunc(out, func(m string) string {
		if resolveErr != nil {
			return m
		}
		groups := stepExtractPattern.FindStringSubmatch(m)
		idx, _ := strconv.Atoi(groups[1])
		section := groups[2]
		output, err := r.steps.StepOutput(oc.Std(), r.taskID, idx)
		if err != nil {
			resolveErr = fmt.Errorf("resolve {{STEP_%d_EXTRACT:%s}}: %w", idx, section, err)
			return m
		}
		return extractSection(output, section)
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	out = stepSummaryPattern.ReplaceAllStringFunc(out, func(m string) string {
		if resolveErr != nil {
			return m
		}
		groups := stepSummaryPattern.FindStringSubmatch(m)
		idx, _ := strconv.Atoi(groups[1])
		text, err := r.resolveSingleSummary(oc, idx)
		if err != nil {
			resolveErr = err
			return m
		}
		return text
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	out = stepPattern.ReplaceAllStringFunc(out, func(m string) string {
		if resolveErr != nil {
			return m
		}
		groups := stepPattern.FindStringSubmatch(m)
		idx, _ := strconv.Atoi(groups[1])
		output, err := r.steps.StepOutput(oc.Std(), r.taskID, idx)
		if err != nil {
			resolveErr = fmt.Errorf("resolve {{STEP_%d}}: %w", idx, err)
			return m
		}
		return output
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	return out, nil
}

func (r *PlaceholderResolver) resolveSingleSummary(oc opctx.Context, idx int) (string, error) {
	output, err := r.steps.StepOutput(oc.Std(), r.taskID, idx)
	if err != nil {
		return "", fmt.Errorf("resolve {{STEP_%d_SUMMARY}}: %w", idx, err)
	}
	key := models.NumeratorState{TaskID: r.taskID, RangeFrom: idx, RangeTo: idx}.Key()
	return r.summarizeCached(oc, key, output)
}

func (r *PlaceholderResolver) resolveRangeSummary(oc opctx.Context, from, to int) (string, error) {
	outputs, err := r.steps.StepOutputsInRange(oc.Std(), r.taskID, from, to)
	if err != nil {
		return "", fmt.Errorf("resolve {{STEPS_%d-%d_SUMMARY}}: %w", from, to, err)
	}
	key := models.NumeratorState{TaskID: r.taskID, RangeFrom: from, RangeTo: to}.Key()
	return r.summarizeCached(oc, key, strings.Join(outputs, "\n\n"))
}

// summarizeCached returns the cached summary for key if present, else
// computes it via the configured Summarizer exactly once even if several
// placeholders resolve the same key concurrently (golang.org/x/sync/
// singleflight), per §4.4's lazy-summary-cache requirement.
func (r *PlaceholderResolver) summarizeCached(oc opctx.Context, key, text string) (string, error) {
	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flightGrp.Do(key, func() (interface{}, error) {
		r.mu.Lock()
		cached, ok := r.cache[key]
		r.mu.Unlock()
		if ok {
			return cached, nil
		}
		summary, err := r.summarize(oc, text)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[key] = summary
		r.mu.Unlock()
		return summary, nil
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", key, err)
	}
	return v.(string), nil
}

// extractSection returns the body of the Markdown-style heading matching
// section (case-insensitive), up to the next heading of equal-or-higher
// level. Falls back to a "- <section>" bullet-line match, then to the
// full output — a missing section degrades gracefully rather than
// failing the step over a formatting quirk in a prior step's output.
func extractSection(output, section string) string {
	lines := strings.Split(output, "\n")
	sectionLower := strings.ToLower(strings.TrimSpace(section))

	headingIdx, headingLevel := -1, 0
	for i, line := range lines {
		m := sectionHeadingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(m[1])) == sectionLower {
			headingIdx = i
			headingLevel = strings.IndexFunc(line, func(r rune) bool { return r != '#' })
			break
		}
	}

	if headingIdx >= 0 {
		end := len(lines)
		for j := headingIdx + 1; j < len(lines); j++ {
			if loc := sectionHeadingPattern.FindStringIndex(lines[j]); loc != nil {
				level := strings.IndexFunc(lines[j], func(r rune) bool { return r != '#' })
				if level <= headingLevel {
					end = j
					break
				}
			}
		}
		return strings.TrimSpace(strings.Join(lines[headingIdx+1:end], "\n"))
	}

	bulletPrefix := "- " + section
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), strings.ToLower(bulletPrefix)) {
			end := len(lines)
			for j := i + 1; j < len(lines); j++ {
				if strings.HasPrefix(strings.TrimSpace(lines[j]), "- ") {
					end = j
					break
				}
			}
			return strings.TrimSpace(strings.Join(lines[i:end], "\n"))
		}
	}

	return output
}
