package ner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"go.uber.org/zap"
)

// DefaultMaxLength is the model sequence length used when none is configured
const DefaultMaxLength = 512

// Options locates the model assets
type Options struct {
	Enabled       bool
	AssetDir      string
	LocalDir      string
	ModelFile     string
	VocabFile     string
	TokenizerFile string
	LabelsFile    string
	MaxLength     int
	SharedLibrary string
	Timeout       time.Duration
}

// Recognizer is the neural entity recognizer. It owns one inference session
// that is loaded lazily and reused until Release.
type Recognizer struct {
	opts     Options
	logger   *logger.Logger
	factory  BackendFactory
	compiled bool

	probeOnce sync.Once
	probeErr  error

	mu        sync.Mutex
	backend   Backend
	loadErr   error
	tokenizer *Tokenizer
	labels    []string
	stats     Stats
}

// NewRecognizer creates a recognizer. A nil factory uses the build's NewBackend.
func NewRecognizer(opts Options, log *logger.Logger, factory BackendFactory) *Recognizer {
	compiled := factory != nil || backendCompiled
	if factory == nil {
		factory = NewBackend
	}
	if opts.MaxLength < 2 {
		opts.MaxLength = DefaultMaxLength
	}
	return &Recognizer{
		opts:     opts,
		logger:   log.WithComponent("ner"),
		factory:  factory,
		compiled: compiled,
	}
}

// Probe checks once whether the neural path can work at all. The outcome is
// cached for the life of the recognizer.
func (r *Recognizer) Probe() error {
	r.probeOnce.Do(func() {
		r.probeErr = r.probe()
		if r.probeErr != nil {
			r.logger.Warn("Neural recognizer unavailable, heuristic detection only", zap.Error(r.probeErr))
		} else {
			r.logger.Info("Neural recognizer available", zap.String("model", r.assetPath(r.opts.ModelFile)))
		}
	})
	return r.probeErr
}

func (r *Recognizer) probe() error {
	if !r.opts.Enabled {
		return fmt.Errorf("%w: disabled by configuration", ErrModelUnavailable)
	}
	if !r.compiled {
		return ErrBackendUnavailable
	}
	if _, err := os.Stat(r.assetPath(r.opts.ModelFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if _, err := LoadLabels(r.assetPath(r.opts.LabelsFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return nil
}

// Available reports the cached probe outcome
func (r *Recognizer) Available() bool {
	return r.Probe() == nil
}

func (r *Recognizer) assetPath(name string) string {
	return filepath.Join(r.opts.AssetDir, name)
}

// Load prepares the tokenizer, labels and inference session. Calling Load on a
// loaded recognizer is a no-op. A failed load is remembered until Release.
func (r *Recognizer) Load(ctx context.Context) error {
	if err := r.Probe(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Recognizer) loadLocked(ctx context.Context) error {
	if r.backend != nil {
		return nil
	}
	if r.loadErr != nil {
		return r.loadErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.openLocked(); err != nil {
		r.loadErr = err
		return err
	}
	return nil
}

func (r *Recognizer) openLocked() error {
	start := time.Now()

	labels, err := LoadLabels(r.assetPath(r.opts.LabelsFile))
	if err != nil {
		return err
	}

	r.tokenizer = NewTokenizer(r.loadVocabulary())

	modelPath, err := localCopy(r.assetPath(r.opts.ModelFile), r.opts.LocalDir)
	if err != nil {
		return err
	}

	backend, err := r.factory(r.logger, modelPath, BackendOptions{SharedLibrary: r.opts.SharedLibrary})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	r.backend = backend
	r.labels = labels
	r.stats.Loaded = true
	r.stats.ModelLoadTime = time.Since(start)

	r.logger.Info("Model loaded",
		zap.String("path", modelPath),
		zap.Int("labels", len(labels)),
		zap.Bool("fallback_tokenizer", r.tokenizer.Fallback()),
		zap.Duration("load_time", r.stats.ModelLoadTime),
	)
	return nil
}

// loadVocabulary tries vocab.txt then tokenizer.json; nil selects the whitespace fallback
func (r *Recognizer) loadVocabulary() *Vocabulary {
	for _, name := range []string{r.opts.VocabFile, r.opts.TokenizerFile} {
		if name == "" {
			continue
		}
		vocab, err := LoadVocabulary(r.assetPath(name))
		if err == nil {
			return vocab
		}
		r.logger.Debug("Vocabulary not loaded", zap.String("file", name), zap.Error(err))
	}
	r.logger.Warn("No vocabulary available, using whitespace tokenizer")
	return nil
}

// Release closes the inference session. A later Recognize loads it again.
func (r *Recognizer) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadErr = nil
	if r.backend == nil {
		return nil
	}
	err := r.backend.Close()
	r.backend = nil
	r.stats.Loaded = false
	r.logger.Info("Model released")
	return err
}

// Recognize runs the model over text. Every failure, including a backend
// panic, is reported as Unavailable.
func (r *Recognizer) Recognize(ctx context.Context, text string) (result Result) {
	if err := r.Probe(); err != nil {
		return Unavailable(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Inference panicked", zap.Any("panic", p))
			result = Unavailable(fmt.Errorf("%w: %v", ErrInferencePanic, p))
		}
		r.recordLocked(result, time.Since(start))
	}()

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	if err := r.loadLocked(ctx); err != nil {
		return Unavailable(err)
	}

	var entities []pii.Entity
	for offset := 0; offset < len(text); {
		if err := ctx.Err(); err != nil {
			return Unavailable(err)
		}
		window := text[offset:]
		if strings.TrimSpace(window) == "" {
			break
		}

		found, next, err := r.recognizeWindow(ctx, window)
		if err != nil {
			return Unavailable(err)
		}
		for _, e := range found {
			e.Start += offset
			e.End += offset
			entities = append(entities, e)
		}
		if next <= 0 {
			break
		}
		offset += next
	}
	return Ok(entities)
}

// recognizeWindow runs one model pass over the start of text. It returns the
// entities that lie fully inside the window and where the next window starts.
// An entity touching the window edge is dropped and the next window starts at
// it, so it is read again whole.
func (r *Recognizer) recognizeWindow(ctx context.Context, text string) ([]pii.Entity, int, error) {
	enc := r.tokenizer.Encode(text, r.opts.MaxLength)
	logits, err := r.backend.Run(ctx, &enc)
	if err != nil {
		return nil, 0, err
	}

	found, err := decodeEntities(logits, &enc, r.labels)
	if err != nil {
		return nil, 0, err
	}

	next := enc.Consumed
	if next >= len(text) {
		return found, next, nil
	}

	kept := found[:0]
	for _, e := range found {
		if e.End >= enc.Consumed && e.Start > 0 {
			if e.Start < next {
				next = e.Start
			}
			continue
		}
		kept = append(kept, e)
	}
	return kept, next, nil
}

func (r *Recognizer) recordLocked(result Result, elapsed time.Duration) {
	r.stats.TotalInferences++
	if !result.Available() {
		r.stats.FailedInferences++
	}
	r.stats.TotalEntities += int64(len(result.Entities()))
	r.stats.LastInference = time.Now()

	n := r.stats.TotalInferences
	r.stats.AvgInferenceTime = time.Duration((int64(r.stats.AvgInferenceTime)*(n-1) + int64(elapsed)) / n)
}

// GetStats returns a copy of the recognizer statistics
func (r *Recognizer) GetStats() Stats {
	available := r.Available()

	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Available = available
	return stats
}
