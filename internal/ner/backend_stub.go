//go:build !onnx
// +build !onnx

package ner

import (
	"github.com/raaihank/photo-sentinel/internal/logger"
)

const backendCompiled = false

// NewBackend is the stub used when the 'onnx' build tag is not set
func NewBackend(log *logger.Logger, modelPath string, opts BackendOptions) (Backend, error) {
	return nil, ErrBackendUnavailable
}
