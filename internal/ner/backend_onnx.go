//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/raaihank/photo-sentinel/internal/logger"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const backendCompiled = true

// OnnxBackend implements Backend using ONNX Runtime (via yalue/onnxruntime_go)
type OnnxBackend struct {
	session      *ort.DynamicAdvancedSession
	inputNames   []string
	outputName   string
	wantsTypeIDs bool
	logger       *logger.Logger
	mu           sync.Mutex
}

// NewBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewBackend(log *logger.Logger, modelPath string, opts BackendOptions) (Backend, error) {
	shlib := opts.SharedLibrary
	if shlib == "" {
		shlib = os.Getenv("ONNXRUNTIME_SHARED_LIB")
	}
	if shlib == "" {
		shlib = os.Getenv("ORT_SHLIB")
	}
	if shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnx runtime: %w", err)
		}
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect onnx model io: %w", err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("onnx model %s reports no outputs", modelPath)
	}

	backend := &OnnxBackend{logger: log, outputName: outputsInfo[0].Name}
	for _, ii := range inputsInfo {
		switch inputRole(ii.Name) {
		case "ids", "mask":
			backend.inputNames = append(backend.inputNames, ii.Name)
		case "type":
			backend.inputNames = append(backend.inputNames, ii.Name)
			backend.wantsTypeIDs = true
		default:
			return nil, fmt.Errorf("unsupported model input %q", ii.Name)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, backend.inputNames, []string{backend.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}
	backend.session = sess

	log.Info("ONNX Runtime backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", backend.inputNames),
		zap.String("output", backend.outputName),
		zap.Bool("token_type_ids", backend.wantsTypeIDs),
	)
	return backend, nil
}

// inputRole classifies a model input by name
func inputRole(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "token_type") || strings.Contains(lower, "segment"):
		return "type"
	case strings.Contains(lower, "attention") || strings.Contains(lower, "mask"):
		return "mask"
	case strings.Contains(lower, "ids") || lower == "input":
		return "ids"
	}
	return ""
}

// Run executes the session for one sequence and copies the logits out
func (b *OnnxBackend) Run(ctx context.Context, enc *Encoding) (*Logits, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, fmt.Errorf("onnx backend closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqLen := int64(enc.Len())
	shape := ort.NewShape(1, seqLen)

	idsTensor, err := ort.NewTensor[int64](shape, enc.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor[int64](shape, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		switch inputRole(name) {
		case "ids":
			inputs = append(inputs, idsTensor)
		case "mask":
			inputs = append(inputs, maskTensor)
		case "type":
			typeTensor, err := ort.NewTensor[int64](shape, make([]int64, enc.Len()))
			if err != nil {
				return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
			}
			defer typeTensor.Destroy()
			inputs = append(inputs, typeTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}

	data := outTensor.GetData()
	logits := &Logits{
		Data:  make([]float32, len(data)),
		Shape: []int64(outTensor.GetShape()),
	}
	copy(logits.Data, data)
	return logits, nil
}

// Close releases session and environment resources
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	return ort.DestroyEnvironment()
}
