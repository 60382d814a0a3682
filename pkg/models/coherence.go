package models

import "time"

// ChunkFacts is the extracted fact set for one ~1800-character window of
// a story's text, produced by the coherence evaluator so that windows can
// be cross-checked against each other without re-reading the whole story
// for every pair.
type ChunkFacts struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	ChunkIndex int      `json:"chunk_index"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	Facts     []string  `json:"facts"`
	CreatedAt time.Time `json:"created_at"`
}

// GlobalCoherence is the aggregated cross-chunk coherence verdict for a
// story: contradictions found between ChunkFacts entries and an overall
// score folded into the story's category scores.
type GlobalCoherence struct {
	ID             string    `json:"id"`
	StoryID        string    `json:"story_id"`
	Contradictions []string  `json:"contradictions"`
	Score          float64   `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}
