package ocr

import (
	"context"
	"strings"
)

// BBox is an axis-aligned rectangle in image pixel coordinates
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Span is a half-open byte range [Start, End) into Result.FullText
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Word is a single recognized token with its geometry. Span is nil when the
// engine does not report character offsets.
type Word struct {
	Text       string  `json:"text"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence,omitempty"`
	Span       *Span   `json:"span,omitempty"`
}

// Line is a recognized text line in reading order
type Line struct {
	Text  string `json:"text"`
	Box   BBox   `json:"box"`
	Index int    `json:"index"`
}

// Result is the text and geometry extracted from one image
type Result struct {
	FullText string `json:"fullText"`
	Words    []Word `json:"words"`
	Lines    []Line `json:"lines"`
}

// Empty reports whether the result carries no usable text
func (r Result) Empty() bool {
	return strings.TrimSpace(r.FullText) == ""
}

// Adapter extracts text from an image. Implementations never return an error:
// any failure yields an empty Result.
type Adapter interface {
	RecognizeText(ctx context.Context, imageURI string) Result
	Name() string
}

// Disabled is an adapter that never recognizes anything
type Disabled struct{}

// RecognizeText always returns an empty result
func (Disabled) RecognizeText(context.Context, string) Result { return Result{} }

// Name returns the adapter name
func (Disabled) Name() string { return "none" }
