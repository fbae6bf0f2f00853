//go:build !tesseract
// +build !tesseract

package ocr

import (
	"errors"

	"github.com/raaihank/photo-sentinel/internal/logger"
)

// ErrEngineUnavailable is returned when an engine is not compiled in
var ErrEngineUnavailable = errors.New("ocr engine not compiled in (build with -tags tesseract)")

// NewGosseract is the stub used when the 'tesseract' build tag is not set
func NewGosseract(opts Options, log *logger.Logger) (Adapter, error) {
	return nil, ErrEngineUnavailable
}
