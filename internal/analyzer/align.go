package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/raaihank/photo-sentinel/internal/ocr"
	"github.com/raaihank/photo-sentinel/internal/pii"
)

// alignWords returns a copy of words where every word that can be located in
// fullText has a span. Native spans are kept; missing ones are found by a
// forward literal search from a cursor that only moves ahead. Repeated or
// reordered words can therefore attach to the wrong occurrence.
func alignWords(fullText string, words []ocr.Word) []ocr.Word {
	aligned := make([]ocr.Word, len(words))
	cursor := 0

	for i, w := range words {
		aligned[i] = w
		if w.Span != nil {
			if w.Span.End > cursor {
				cursor = w.Span.End
			}
			continue
		}
		if w.Text == "" || cursor > len(fullText) {
			continue
		}

		idx := strings.Index(fullText[cursor:], w.Text)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(w.Text)
		aligned[i].Span = &ocr.Span{Start: start, End: end}
		cursor = end
	}

	return aligned
}

// boxesFor returns the distinct boxes of words overlapping the entity, in word order
func boxesFor(e pii.Entity, words []ocr.Word) []ocr.BBox {
	boxes := []ocr.BBox{}
	seen := make(map[ocr.BBox]bool)
	for _, w := range words {
		if w.Span == nil || !e.Overlaps(w.Span.Start, w.Span.End) {
			continue
		}
		if !seen[w.Box] {
			seen[w.Box] = true
			boxes = append(boxes, w.Box)
		}
	}
	return boxes
}

// snippet returns the entity text with up to context bytes on either side,
// widened to rune boundaries
func snippet(text string, e pii.Entity, context int) string {
	start := e.Start - context
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}

	end := e.End + context
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	return strings.TrimSpace(text[start:end])
}
