package ocr

import (
	"fmt"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"go.uber.org/zap"
)

// New creates the adapter named by engine
func New(engine string, opts Options, log *logger.Logger) (Adapter, error) {
	var (
		adapter Adapter
		err     error
	)

	switch engine {
	case "tesseract-cli":
		adapter = NewTesseractCLI(opts, nil, log)
	case "gosseract":
		adapter, err = NewGosseract(opts, log)
	case "none", "":
		adapter = Disabled{}
	default:
		err = fmt.Errorf("unknown ocr engine: %s", engine)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create ocr adapter: %w", err)
	}

	log.Info("OCR adapter initialized",
		zap.String("engine", adapter.Name()),
		zap.Strings("languages", opts.Languages),
	)
	return adapter, nil
}
