// Package evaluation implements the two evaluation modes of §4.6: a
// per-story category-scoring pass driven by an evaluator agent's JSON
// response, and a chunked coherence pass that extracts facts from
// fixed-size windows of a story's text and cross-checks them for
// contradictions.
package evaluation

import "strings"

// TextChunk is one boundary-aware window of a story's content.
type TextChunk struct {
	Index int
	Start int
	End   int
	Text  string
}

const (
	chunkTarget = 1800
	chunkSlack  = 200
)

var boundaryChars = ".!?\n"

// Chunk splits text into ~chunkTarget-character windows, searching for a
// sentence or line boundary (one of `.`, `!`, `?`, `\n`) within
// ±chunkSlack characters of each target offset so a chunk never cuts a
// story mid-sentence if a boundary is available nearby. The closest
// boundary to the target wins; ties (equal distance on both sides) are
// broken in favor of the earlier one. A window with no boundary in
// range is cut hard at the target offset.
func Chunk(text string) []TextChunk {
	if text == "" {
		return nil
	}

	var chunks []TextChunk
	start := 0
	idx := 0
	for start < len(text) {
		target := start + chunkTarget
		var end int
		if target >= len(text) {
			end = len(text)
		} else {
			end = findBoundary(text, target)
		}
		if end <= start {
			end = min(start+chunkTarget, len(text))
		}
		chunks = append(chunks, TextChunk{Index: idx, Start: start, End: end, Text: text[start:end]})
		start = end
		idx++
	}
	return chunks
}

// findBoundary returns the cut offset (exclusive of the boundary
// character) closest to target within ±chunkSlack, or target itself if
// no boundary character falls in range.
func findBoundary(text string, target int) int {
	lo := max(0, target-chunkSlack)
	hi := min(len(text), target+chunkSlack)

	for d := 0; d <= chunkSlack; d++ {
		if target-d >= lo {
			if pos := target - d; strings.ContainsRune(boundaryChars, rune(text[pos])) {
				return pos + 1
			}
		}
		if target+d < hi {
			if pos := target + d; strings.ContainsRune(boundaryChars, rune(text[pos])) {
				return pos + 1
			}
		}
	}
	return target
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
