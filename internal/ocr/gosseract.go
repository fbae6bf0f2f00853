//go:build tesseract
// +build tesseract

package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"go.uber.org/zap"
)

// Gosseract uses libtesseract through cgo. It reports no character offsets,
// so word spans are reconstructed downstream.
type Gosseract struct {
	opts   Options
	logger *logger.Logger
}

// NewGosseract creates the cgo adapter. Requires build tag 'tesseract'.
func NewGosseract(opts Options, log *logger.Logger) (Adapter, error) {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	return &Gosseract{opts: opts, logger: log.WithComponent("ocr")}, nil
}

// Name returns the adapter name
func (g *Gosseract) Name() string { return "gosseract" }

// RecognizeText never fails; errors produce an empty result
func (g *Gosseract) RecognizeText(ctx context.Context, imageURI string) Result {
	if ctx.Err() != nil {
		return Result{}
	}

	result, err := g.recognize(media.LocalPath(imageURI))
	if err != nil {
		g.logger.Warn("Tesseract failed", zap.String("uri", imageURI), zap.Error(err))
		return Result{}
	}
	return result
}

func (g *Gosseract) recognize(path string) (Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(g.opts.Languages...); err != nil {
		return Result{}, fmt.Errorf("failed to set language: %w", err)
	}
	if g.opts.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(g.opts.PageSegMode)); err != nil {
			return Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}
	if err := client.SetImage(path); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("failed to recognize text: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get bounding boxes: %w", err)
	}

	result := Result{FullText: text}
	type key struct{ block, par, line int }
	var current key
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" || b.Confidence < g.opts.MinConfidence {
			continue
		}
		box := fromRect(b.Box)
		result.Words = append(result.Words, Word{Text: word, Box: box, Confidence: b.Confidence / 100})

		k := key{b.BlockNum, b.ParNum, b.LineNum}
		if len(result.Lines) == 0 || k != current {
			current = k
			result.Lines = append(result.Lines, Line{Text: word, Box: box, Index: len(result.Lines)})
			continue
		}
		last := &result.Lines[len(result.Lines)-1]
		last.Text += " " + word
		last.Box = last.Box.Union(box)
	}

	return result, nil
}

func fromRect(r image.Rectangle) BBox {
	return BBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}
