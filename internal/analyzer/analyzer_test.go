package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/ner"
	"github.com/raaihank/photo-sentinel/internal/ocr"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"github.com/raaihank/photo-sentinel/internal/privacy"
)

type fakeOCR struct {
	result ocr.Result
}

func (f fakeOCR) RecognizeText(context.Context, string) ocr.Result { return f.result }
func (f fakeOCR) Name() string                                       { return "fake" }

type fakeNeural struct {
	result ner.Result
	calls  int
}

func (f *fakeNeural) Recognize(context.Context, string) ner.Result {
	f.calls++
	return f.result
}

func defaultFilters() FilterConfig {
	return FilterConfig{
		BroadLabels:        []string{"CITY", "JOBTITLE", "CURRENCY"},
		ShortAllowlist:     []string{"SSN", "DOB", "PIN", "US", "CA"},
		CommonWords:        []string{"name", "email", "phone"},
		CommonWordMinScore: 0.8,
		SnippetContext:     16,
	}
}

func newAnalyzer(t *testing.T, result ocr.Result, neural NeuralRecognizer) *Analyzer {
	t.Helper()
	detector, err := privacy.New([]string{"all"}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return New(fakeOCR{result: result}, neural, detector, defaultFilters(), logger.NewNop())
}

// wordsFor splits text on single spaces into words without spans
func wordsFor(text string) []ocr.Word {
	var words []ocr.Word
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ' ' {
			if i > start {
				words = append(words, ocr.Word{
					Text: text[start:i],
					Box:  ocr.BBox{X: start * 10, Y: 0, Width: (i - start) * 10, Height: 12},
				})
			}
			start = i + 1
		}
	}
	return words
}

func TestAnalyzeHeuristicFallback(t *testing.T) {
	text := "Email: test@example.com Phone: 8123 4567"
	neural := &fakeNeural{result: ner.Unavailable(errors.New("no model"))}
	a := newAnalyzer(t, ocr.Result{FullText: text, Words: wordsFor(text)}, neural)

	analysis, err := a.Analyze(context.Background(), "file:///photos/receipt.jpg", 0.6)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if analysis.Engine != pii.EngineHeuristic {
		t.Errorf("Expected heuristic engine, got %q", analysis.Engine)
	}
	if !analysis.HasPii {
		t.Fatal("Expected PII to be found")
	}

	labels := map[string]pii.Finding{}
	for _, f := range analysis.Findings {
		labels[f.Label] = f
	}
	email, ok := labels["EMAIL"]
	if !ok {
		t.Fatalf("Expected EMAIL finding, got %+v", analysis.Findings)
	}
	phone, ok := labels["PHONE_NUMBER"]
	if !ok {
		t.Fatalf("Expected PHONE_NUMBER finding, got %+v", analysis.Findings)
	}

	if len(email.Boxes) != 1 || email.Boxes[0].X != 70 {
		t.Errorf("Expected EMAIL to map onto the address word box, got %+v", email.Boxes)
	}
	if len(phone.Boxes) != 2 {
		t.Errorf("Expected PHONE_NUMBER to cover two word boxes, got %+v", phone.Boxes)
	}
	if !strings.HasPrefix(email.Snippet, "Email: test@example.com") {
		t.Errorf("Unexpected snippet %q", email.Snippet)
	}
}

func TestAnalyzeNeuralPreferred(t *testing.T) {
	text := "John Smith lives here"
	neural := &fakeNeural{result: ner.Ok([]pii.Entity{
		{Label: "NAME", Start: 0, End: 10, Score: 0.97},
		{Label: "CITY", Start: 11, End: 16, Score: 0.99},
	})}
	a := newAnalyzer(t, ocr.Result{FullText: text, Words: wordsFor(text)}, neural)

	analysis, err := a.Analyze(context.Background(), "img", 0.6)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.Engine != pii.EngineNeural {
		t.Errorf("Expected neural engine, got %q", analysis.Engine)
	}
	if len(analysis.Findings) != 1 || analysis.Findings[0].Label != "NAME" {
		t.Fatalf("Expected only NAME to survive the broad-label filter, got %+v", analysis.Findings)
	}
}

func TestAnalyzeNeuralEmptyFallsBack(t *testing.T) {
	text := "reach me at a@b.com"
	neural := &fakeNeural{result: ner.Ok(nil)}
	a := newAnalyzer(t, ocr.Result{FullText: text, Words: wordsFor(text)}, neural)

	analysis, _ := a.Analyze(context.Background(), "img", 0.6)
	if analysis.Engine != pii.EngineHeuristic || !analysis.HasPii {
		t.Errorf("Expected heuristic findings after empty neural result, got %+v", analysis)
	}
}

func TestAnalyzeEmptyText(t *testing.T) {
	neural := &fakeNeural{result: ner.Ok(nil)}
	a := newAnalyzer(t, ocr.Result{FullText: "  \n\t "}, neural)

	analysis, err := a.Analyze(context.Background(), "img", 0.6)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.HasPii || len(analysis.Findings) != 0 {
		t.Errorf("Expected no PII for blank text, got %+v", analysis)
	}
	if neural.calls != 0 {
		t.Error("Recognizer must not run on blank text")
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	a := newAnalyzer(t, ocr.Result{FullText: "a@b.com"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Analyze(ctx, "img", 0.6); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFilterRules(t *testing.T) {
	f := newFilter(defaultFilters())
	text := "x CA PIN ab name John Smith"

	tests := []struct {
		name   string
		entity pii.Entity
		keep   bool
		reason string
	}{
		{"below threshold", pii.Entity{Label: "NAME", Start: 16, End: 26, Score: 0.5}, false, "below_threshold"},
		{"broad label", pii.Entity{Label: "city", Start: 16, End: 26, Score: 0.9}, false, "broad_label"},
		{"single letter", pii.Entity{Label: "NAME", Start: 0, End: 1, Score: 0.9}, false, "single_letter"},
		{"allowlisted state code", pii.Entity{Label: "STATE_CODE", Start: 2, End: 4, Score: 0.9}, true, ""},
		{"allowlisted abbreviation", pii.Entity{Label: "PIN", Start: 5, End: 8, Score: 0.9}, true, ""},
		{"short noise", pii.Entity{Label: "NAME", Start: 9, End: 11, Score: 0.9}, false, "short_snippet"},
		{"common word low score", pii.Entity{Label: "NAME", Start: 12, End: 16, Score: 0.7}, false, "common_word"},
		{"common word high score", pii.Entity{Label: "NAME", Start: 12, End: 16, Score: 0.85}, true, ""},
		{"regular name", pii.Entity{Label: "NAME", Start: 17, End: 27, Score: 0.65}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, reason := f.keep(tt.entity, text, 0.6)
			if keep != tt.keep || reason != tt.reason {
				t.Errorf("keep = %v (%q), want %v (%q)", keep, reason, tt.keep, tt.reason)
			}
		})
	}
}

func TestAlignWords(t *testing.T) {
	text := "John Smith"
	words := []ocr.Word{
		{Text: "John", Box: ocr.BBox{X: 0, Width: 40}},
		{Text: "Smith", Box: ocr.BBox{X: 50, Width: 50}},
	}

	aligned := alignWords(text, words)
	if aligned[0].Span == nil || *aligned[0].Span != (ocr.Span{Start: 0, End: 4}) {
		t.Errorf("Unexpected span for John: %+v", aligned[0].Span)
	}
	if aligned[1].Span == nil || *aligned[1].Span != (ocr.Span{Start: 5, End: 10}) {
		t.Errorf("Unexpected span for Smith: %+v", aligned[1].Span)
	}
	if words[0].Span != nil {
		t.Error("alignWords must not modify its input")
	}

	boxes := boxesFor(pii.Entity{Label: "NAME", Start: 0, End: 10}, aligned)
	if len(boxes) != 2 || boxes[0].X != 0 || boxes[1].X != 50 {
		t.Errorf("Expected both word boxes in order, got %+v", boxes)
	}

	none := boxesFor(pii.Entity{Label: "NAME", Start: 20, End: 25}, aligned)
	if none == nil || len(none) != 0 {
		t.Errorf("Expected empty non-nil boxes, got %#v", none)
	}
}

func TestAlignWordsKeepsNativeSpans(t *testing.T) {
	text := "ab ab ab"
	words := []ocr.Word{
		{Text: "ab", Span: &ocr.Span{Start: 3, End: 5}},
		{Text: "ab"},
		{Text: "zz"},
	}

	aligned := alignWords(text, words)
	if *aligned[0].Span != (ocr.Span{Start: 3, End: 5}) {
		t.Errorf("Native span changed: %+v", aligned[0].Span)
	}
	if aligned[1].Span == nil || aligned[1].Span.Start != 6 {
		t.Errorf("Expected search to resume after the native span, got %+v", aligned[1].Span)
	}
	if aligned[2].Span != nil {
		t.Errorf("Expected no span for a word missing from the text, got %+v", aligned[2].Span)
	}
}

func TestSnippet(t *testing.T) {
	text := "name: Jürgen Müller, born 1970"
	e := pii.Entity{Start: 6, End: 21}
	got := snippet(text, e, 2)
	if !strings.Contains(got, "Jürgen Müller") {
		t.Errorf("Snippet %q lost the entity text", got)
	}
	if got := snippet(text, e, 0); got != strings.TrimSpace(text[6:21]) {
		t.Errorf("Zero context snippet = %q", got)
	}
}
