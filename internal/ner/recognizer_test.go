package ner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raaihank/photo-sentinel/internal/logger"
)

type fakeBackend struct {
	run    func(enc *Encoding) (*Logits, error)
	calls  int
	closed bool
}

func (f *fakeBackend) Run(_ context.Context, enc *Encoding) (*Logits, error) {
	f.calls++
	return f.run(enc)
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func writeAssets(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"model.onnx":  "not really a model",
		"config.json": `{"id2label": {"0": "O", "1": "B-EMAIL", "2": "I-EMAIL"}}`,
		"vocab.txt":   strings.Join([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "mail", "a", "@", "b", ".", "com"}, "\n"),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return Options{
		Enabled:    true,
		AssetDir:   dir,
		LocalDir:   filepath.Join(t.TempDir(), "local"),
		ModelFile:  "model.onnx",
		VocabFile:  "vocab.txt",
		LabelsFile: "config.json",
		MaxLength:  16,
	}
}

// emailLogits tags every real token after the first as EMAIL
func emailLogits(enc *Encoding) (*Logits, error) {
	var winners []int
	for i := range enc.InputIDs {
		switch {
		case enc.AttentionMask[i] == 0 || !enc.Offsets[i].Valid() || i == 1:
			winners = append(winners, 0)
		case i == 2:
			winners = append(winners, 1)
		default:
			winners = append(winners, 2)
		}
	}
	return &Logits{Data: oneHot(3, winners...), Shape: []int64{1, int64(len(winners)), 3}}, nil
}

func TestRecognizerOk(t *testing.T) {
	opts := writeAssets(t)
	backend := &fakeBackend{run: emailLogits}
	var loads int
	factory := func(_ *logger.Logger, modelPath string, _ BackendOptions) (Backend, error) {
		loads++
		if !strings.HasPrefix(modelPath, opts.LocalDir) {
			t.Errorf("Expected model to load from local copy, got %s", modelPath)
		}
		return backend, nil
	}

	r := NewRecognizer(opts, logger.NewNop(), factory)
	text := "mail a@b.com"

	result := r.Recognize(context.Background(), text)
	if !result.Available() {
		t.Fatalf("Expected Ok result, got %v", result.Reason())
	}
	entities := result.Entities()
	if len(entities) != 1 || entities[0].Label != "EMAIL" || text[entities[0].Start:entities[0].End] != "a@b.com" {
		t.Fatalf("Unexpected entities %+v", entities)
	}

	r.Recognize(context.Background(), text)
	if loads != 1 {
		t.Errorf("Expected the session to be reused, got %d loads", loads)
	}
	if _, err := os.Stat(filepath.Join(opts.LocalDir, "model.onnx")); err != nil {
		t.Errorf("Expected local model copy: %v", err)
	}

	if err := r.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !backend.closed {
		t.Error("Expected backend to be closed on release")
	}

	r.Recognize(context.Background(), text)
	if loads != 2 {
		t.Errorf("Expected a reload after release, got %d loads", loads)
	}

	stats := r.GetStats()
	if stats.TotalInferences != 3 || !stats.Available {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestRecognizerUnavailable(t *testing.T) {
	t.Run("missing model", func(t *testing.T) {
		opts := writeAssets(t)
		opts.ModelFile = "absent.onnx"
		r := NewRecognizer(opts, logger.NewNop(), func(*logger.Logger, string, BackendOptions) (Backend, error) {
			t.Fatal("Factory must not be called when the probe fails")
			return nil, nil
		})
		result := r.Recognize(context.Background(), "text")
		if result.Available() || !errors.Is(result.Reason(), ErrModelUnavailable) {
			t.Errorf("Expected model unavailable, got %v", result.Reason())
		}
		if r.Available() {
			t.Error("Expected cached probe to stay negative")
		}
	})

	t.Run("factory error", func(t *testing.T) {
		opts := writeAssets(t)
		calls := 0
		r := NewRecognizer(opts, logger.NewNop(), func(*logger.Logger, string, BackendOptions) (Backend, error) {
			calls++
			return nil, errors.New("bad weights")
		})
		if r.Recognize(context.Background(), "text").Available() {
			t.Error("Expected unavailable on load failure")
		}
		r.Recognize(context.Background(), "text")
		if calls != 1 {
			t.Errorf("Expected failed load to be remembered, factory called %d times", calls)
		}
	})

	t.Run("wrong shape", func(t *testing.T) {
		opts := writeAssets(t)
		backend := &fakeBackend{run: func(*Encoding) (*Logits, error) {
			return &Logits{Data: make([]float32, 4), Shape: []int64{1, 4}}, nil
		}}
		r := NewRecognizer(opts, logger.NewNop(), func(*logger.Logger, string, BackendOptions) (Backend, error) {
			return backend, nil
		})
		if r.Recognize(context.Background(), "mail").Available() {
			t.Error("Expected unavailable on shape mismatch")
		}
	})

	t.Run("panic", func(t *testing.T) {
		opts := writeAssets(t)
		backend := &fakeBackend{run: func(*Encoding) (*Logits, error) {
			panic("native crash")
		}}
		r := NewRecognizer(opts, logger.NewNop(), func(*logger.Logger, string, BackendOptions) (Backend, error) {
			return backend, nil
		})
		result := r.Recognize(context.Background(), "mail")
		if result.Available() || !errors.Is(result.Reason(), ErrInferencePanic) {
			t.Errorf("Expected recovered panic, got %v", result.Reason())
		}
	})

	t.Run("disabled", func(t *testing.T) {
		opts := writeAssets(t)
		opts.Enabled = false
		r := NewRecognizer(opts, logger.NewNop(), nil)
		if r.Recognize(context.Background(), "mail").Available() {
			t.Error("Expected disabled recognizer to be unavailable")
		}
	})
}

// tokenEmailLogits tags "a" as B-EMAIL and "@", "b", ".", "com" as I-EMAIL
// using the ids from writeAssets
func tokenEmailLogits(enc *Encoding) (*Logits, error) {
	winners := make([]int, len(enc.InputIDs))
	for i, id := range enc.InputIDs {
		switch {
		case enc.AttentionMask[i] == 0 || !enc.Offsets[i].Valid():
			winners[i] = 0
		case id == 5:
			winners[i] = 1
		case id >= 6 && id <= 9:
			winners[i] = 2
		}
	}
	return &Logits{Data: oneHot(3, winners...), Shape: []int64{1, int64(len(winners)), 3}}, nil
}

func TestRecognizeLongTextInWindows(t *testing.T) {
	opts := writeAssets(t)
	backend := &fakeBackend{run: tokenEmailLogits}
	factory := func(*logger.Logger, string, BackendOptions) (Backend, error) { return backend, nil }
	r := NewRecognizer(opts, logger.NewNop(), factory)

	// 30 tokens against a 14 token window: the second email straddles the
	// end of the second window
	text := "a@b.com" + strings.Repeat(" mail", 20) + " a@b.com"

	result := r.Recognize(context.Background(), text)
	if !result.Available() {
		t.Fatalf("Expected Ok result, got %v", result.Reason())
	}
	entities := result.Entities()
	if len(entities) != 2 {
		t.Fatalf("Expected the early and the late email, got %+v", entities)
	}
	for i, wantStart := range []int{0, len(text) - len("a@b.com")} {
		e := entities[i]
		if e.Label != "EMAIL" || e.Start != wantStart || text[e.Start:e.End] != "a@b.com" {
			t.Errorf("Entity %d: got %+v (%q), want EMAIL at %d", i, e, text[e.Start:e.End], wantStart)
		}
	}
	if backend.calls != 3 {
		t.Errorf("Expected 3 windows, got %d backend calls", backend.calls)
	}
}

func TestNewRecognizerDefaultMaxLength(t *testing.T) {
	r := NewRecognizer(Options{}, logger.NewNop(), nil)
	if r.opts.MaxLength != DefaultMaxLength || DefaultMaxLength != 512 {
		t.Errorf("Expected default max length 512, got %d", r.opts.MaxLength)
	}
}
