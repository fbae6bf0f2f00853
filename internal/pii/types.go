// Package pii holds the value types shared by the detection pipeline.
package pii

import "github.com/raaihank/photo-sentinel/internal/ocr"

// Engine identifies which recognizer produced a set of findings
type Engine string

const (
	EngineNeural    Engine = "neural"
	EngineHeuristic Engine = "heuristic"
)

// Entity is a labeled span of analyzed text. Start and End are byte offsets,
// End exclusive.
type Entity struct {
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// Len returns the span length in bytes
func (e Entity) Len() int {
	return e.End - e.Start
}

// Overlaps reports whether the entity shares at least one byte with [start, end)
func (e Entity) Overlaps(start, end int) bool {
	return e.Start < end && start < e.End
}

// Finding is a persisted detection with its image regions
type Finding struct {
	Label   string     `json:"label"`
	Score   float64    `json:"score"`
	Snippet string     `json:"snippet"`
	Boxes   []ocr.BBox `json:"boxes"`
}

// Analysis is the outcome of analyzing a single image
type Analysis struct {
	HasPii   bool      `json:"hasPii"`
	Findings []Finding `json:"findings"`
	Engine   Engine    `json:"engine,omitempty"`
}

// Labels returns the distinct finding labels in order of first appearance
func Labels(findings []Finding) []string {
	seen := make(map[string]bool, len(findings))
	var labels []string
	for _, f := range findings {
		if !seen[f.Label] {
			seen[f.Label] = true
			labels = append(labels, f.Label)
		}
	}
	return labels
}
