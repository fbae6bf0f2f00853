package ner

import (
	"context"

	"github.com/raaihank/photo-sentinel/internal/logger"
)

// Backend runs token classification for a single encoded sequence.
// Implementations may use ONNX Runtime or any other engine.
type Backend interface {
	// Run returns [1, T, C] logits for the encoding.
	Run(ctx context.Context, enc *Encoding) (*Logits, error)
	// Close releases any native resources.
	Close() error
}

// BackendOptions configures backend construction
type BackendOptions struct {
	SharedLibrary string
}

// BackendFactory opens a backend for a local model file
type BackendFactory func(log *logger.Logger, modelPath string, opts BackendOptions) (Backend, error)

// Implementations of NewBackend live in build-tagged files: backend_onnx.go and backend_stub.go
