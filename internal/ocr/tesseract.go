package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"go.uber.org/zap"
)

// Options configures the OCR adapters
type Options struct {
	Binary        string
	Languages     []string
	PageSegMode   int
	MinConfidence float64
	Timeout       time.Duration
}

// Runner lets tests stub the external tesseract process
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// TesseractCLI runs the tesseract binary in TSV mode
type TesseractCLI struct {
	opts   Options
	runner Runner
	logger *logger.Logger
}

// NewTesseractCLI creates the CLI adapter. A nil runner executes the real binary.
func NewTesseractCLI(opts Options, runner Runner, log *logger.Logger) *TesseractCLI {
	if opts.Binary == "" {
		opts.Binary = "tesseract"
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &TesseractCLI{opts: opts, runner: runner, logger: log.WithComponent("ocr")}
}

// Name returns the adapter name
func (t *TesseractCLI) Name() string { return "tesseract-cli" }

// RecognizeText runs tesseract on a local image and never fails
func (t *TesseractCLI) RecognizeText(ctx context.Context, imageURI string) Result {
	path := media.LocalPath(imageURI)
	if _, err := os.Stat(path); err != nil {
		t.logger.Warn("Image not readable", zap.String("uri", imageURI), zap.Error(err))
		return Result{}
	}

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	args := []string{path, "stdout", "-l", strings.Join(t.opts.Languages, "+")}
	if t.opts.PageSegMode > 0 {
		args = append(args, "--psm", strconv.Itoa(t.opts.PageSegMode))
	}
	args = append(args, "tsv")

	start := time.Now()
	out, errb, err := t.runner.Run(ctx, t.opts.Binary, args...)
	if err != nil {
		t.logger.Warn("Tesseract failed",
			zap.String("uri", imageURI),
			zap.Error(err),
			zap.String("stderr", truncate(string(errb), 1024)),
		)
		return Result{}
	}

	result, err := ParseTSV(out, t.opts.MinConfidence)
	if err != nil {
		t.logger.Warn("Tesseract output unreadable", zap.String("uri", imageURI), zap.Error(err))
		return Result{}
	}

	t.logger.Debug("OCR completed",
		zap.String("uri", imageURI),
		zap.Int("words", len(result.Words)),
		zap.Int("lines", len(result.Lines)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// tsv columns: level page_num block_num par_num line_num word_num left top width height conf text
const tsvColumns = 12

type lineKey struct {
	page, block, par, line int
}

// ParseTSV converts tesseract TSV output into a Result with native word spans.
// Words are joined by single spaces and lines by newlines.
func ParseTSV(data []byte, minConfidence float64) (Result, error) {
	rows := strings.Split(string(data), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return Result{}, fmt.Errorf("missing tsv header")
	}

	var (
		result  Result
		text    strings.Builder
		current lineKey
		line    *Line
		started bool
	)

	closeLine := func() {
		if line != nil {
			result.Lines = append(result.Lines, *line)
			line = nil
		}
	}

	for _, row := range rows[1:] {
		row = strings.TrimRight(row, "\r")
		cols := strings.Split(row, "\t")
		if len(cols) < tsvColumns || cols[0] != "5" {
			continue
		}

		word := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < minConfidence {
			continue
		}

		ints := make([]int, 10)
		for i := 1; i < 10; i++ {
			v, err := strconv.Atoi(cols[i])
			if err != nil {
				return Result{}, fmt.Errorf("bad tsv value %q: %w", cols[i], err)
			}
			ints[i] = v
		}
		key := lineKey{page: ints[1], block: ints[2], par: ints[3], line: ints[4]}
		box := BBox{X: ints[6], Y: ints[7], Width: ints[8], Height: ints[9]}

		switch {
		case !started:
			started = true
		case key != current:
			closeLine()
			text.WriteByte('\n')
		default:
			text.WriteByte(' ')
		}

		if line == nil {
			line = &Line{Box: box, Index: len(result.Lines)}
			current = key
		} else {
			line.Text += " "
			line.Box = line.Box.Union(box)
		}
		line.Text += word

		start := text.Len()
		text.WriteString(word)
		result.Words = append(result.Words, Word{
			Text:       word,
			Box:        box,
			Confidence: conf / 100,
			Span:       &Span{Start: start, End: text.Len()},
		})
	}
	closeLine()

	result.FullText = text.String()
	return result, nil
}

// Union returns the smallest box containing both boxes
func (b BBox) Union(o BBox) BBox {
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.X+b.Width, o.X+o.Width), max(b.Y+b.Height, o.Y+o.Height)
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
