// Package analyzer turns an image into PII findings: OCR, entity recognition
// with heuristic fallback, noise filtering and box alignment.
package analyzer

import (
	"context"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/ner"
	"github.com/raaihank/photo-sentinel/internal/ocr"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"go.uber.org/zap"
)

// NeuralRecognizer is the model-backed entity recognizer
type NeuralRecognizer interface {
	Recognize(ctx context.Context, text string) ner.Result
}

// HeuristicDetector is the pattern-based fallback
type HeuristicDetector interface {
	Detect(text string) []pii.Entity
	Redact(text string) string
}

const previewBytes = 120

// Analyzer orchestrates a single image analysis
type Analyzer struct {
	ocr       ocr.Adapter
	neural    NeuralRecognizer
	heuristic HeuristicDetector
	filter    *filter
	context   int
	logger    *logger.Logger
}

// New creates an analyzer. neural may be nil for heuristic-only operation.
func New(adapter ocr.Adapter, neural NeuralRecognizer, heuristic HeuristicDetector, cfg FilterConfig, log *logger.Logger) *Analyzer {
	if cfg.SnippetContext <= 0 {
		cfg.SnippetContext = 16
	}
	return &Analyzer{
		ocr:       adapter,
		neural:    neural,
		heuristic: heuristic,
		filter:    newFilter(cfg),
		context:   cfg.SnippetContext,
		logger:    log.WithComponent("analyzer"),
	}
}

// Analyze runs the full pipeline on one image. Adapter failures degrade to
// fewer findings; the only error is context cancellation.
func (a *Analyzer) Analyze(ctx context.Context, uri string, threshold float64) (pii.Analysis, error) {
	start := time.Now()

	result := a.ocr.RecognizeText(ctx, uri)
	if err := ctx.Err(); err != nil {
		return pii.Analysis{}, err
	}
	if result.Empty() {
		a.logger.Debug("No text found", zap.String("uri", uri))
		return pii.Analysis{HasPii: false, Findings: []pii.Finding{}}, nil
	}

	text := result.FullText
	if a.logger.Core().Enabled(zap.DebugLevel) {
		preview := text
		if len(preview) > previewBytes {
			preview = preview[:previewBytes]
		}
		a.logger.Debug("OCR text", zap.String("uri", uri), zap.String("preview", a.heuristic.Redact(preview)))
	}

	entities, engine := a.recognize(ctx, text)
	if err := ctx.Err(); err != nil {
		return pii.Analysis{}, err
	}

	words := alignWords(text, result.Words)
	findings := make([]pii.Finding, 0, len(entities))
	dropped := make(map[string]int)

	for _, e := range entities {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			dropped["invalid_span"]++
			continue
		}
		if ok, reason := a.filter.keep(e, text, threshold); !ok {
			dropped[reason]++
			continue
		}
		findings = append(findings, pii.Finding{
			Label:   e.Label,
			Score:   e.Score,
			Snippet: snippet(text, e, a.context),
			Boxes:   boxesFor(e, words),
		})
	}

	analysis := pii.Analysis{
		HasPii:   len(findings) > 0,
		Findings: findings,
		Engine:   engine,
	}

	a.logger.Debug("Image analyzed",
		zap.String("uri", uri),
		zap.String("engine", string(engine)),
		zap.Int("entities", len(entities)),
		zap.Int("findings", len(findings)),
		zap.Any("dropped", dropped),
		zap.Strings("labels", pii.Labels(findings)),
		zap.Duration("duration", time.Since(start)),
	)

	return analysis, nil
}

// recognize prefers the neural recognizer and falls back to heuristics when it
// is unavailable or finds nothing
func (a *Analyzer) recognize(ctx context.Context, text string) ([]pii.Entity, pii.Engine) {
	if a.neural != nil {
		res := a.neural.Recognize(ctx, text)
		if res.Available() && len(res.Entities()) > 0 {
			return res.Entities(), pii.EngineNeural
		}
		if !res.Available() {
			a.logger.Debug("Neural recognizer unavailable", zap.Error(res.Reason()))
		}
	}
	return a.heuristic.Detect(text), pii.EngineHeuristic
}
