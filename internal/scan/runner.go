package scan

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"github.com/raaihank/photo-sentinel/internal/store"
	"go.uber.org/zap"
)

// Runner processes the scan queue one image at a time
type Runner struct {
	store    RecordStore
	analyzer Analyzer
	events   EventSink
	logger   *logger.Logger

	mu          sync.RWMutex
	threshold   float64
	batchSize   int
	maxAttempts int
	lease       time.Duration

	now func() time.Time
}

// NewRunner creates a batch runner. events may be nil.
func NewRunner(records RecordStore, analyzer Analyzer, events EventSink, opts Options, log *logger.Logger) *Runner {
	if events == nil {
		events = noopSink{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	return &Runner{
		store:       records,
		analyzer:    analyzer,
		events:      events,
		logger:      log.WithComponent("scan_runner"),
		threshold:   opts.Threshold,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		lease:       opts.Lease,
		now:         time.Now,
	}
}

// SetThreshold changes the confidence threshold for subsequent images
func (r *Runner) SetThreshold(threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
}

// Threshold returns the current confidence threshold
func (r *Runner) Threshold() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threshold
}

// ProcessBatch reclaims expired leases, then analyzes up to batch size
// Pending images in queue order. A failing image is reverted and the batch
// continues. With nothing pending no record is written.
func (r *Runner) ProcessBatch(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{RunID: uuid.New().String()}
	log := r.logger.WithRunID(result.RunID)

	reclaimed, err := r.store.ReclaimStale(ctx, r.now().Add(-r.lease), r.maxAttempts)
	if err != nil {
		return result, fmt.Errorf("failed to reclaim stale leases: %w", err)
	}
	result.Reclaimed = reclaimed

	pending, err := r.store.ListPending(ctx, r.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list pending images: %w", err)
	}
	if len(pending) == 0 {
		log.Debug("No pending images")
		result.Duration = time.Since(start)
		return result, nil
	}

	threshold := r.Threshold()
	log.Info("Processing batch",
		zap.Int("images", len(pending)),
		zap.Float64("threshold", threshold))

	for _, record := range pending {
		if ctx.Err() != nil {
			log.Info("Batch cancelled", zap.Int("remaining", len(pending)-result.Taken))
			break
		}
		result.Taken++
		r.processOne(ctx, log, result, record.URI, threshold)
	}

	result.Duration = time.Since(start)
	log.Info("Batch completed",
		zap.Int("taken", result.Taken),
		zap.Int("pii_found", result.PiiFound),
		zap.Int("clean", result.Clean),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return result, ctx.Err()
}

func (r *Runner) processOne(ctx context.Context, log *logger.Logger, result *BatchResult, uri string, threshold float64) {
	start := time.Now()

	claimed, err := r.store.MarkProcessing(ctx, uri)
	if err != nil {
		log.Error("Failed to claim image", zap.String("uri", uri), zap.Error(err))
		result.Skipped++
		return
	}
	if !claimed {
		log.Debug("Image no longer pending", zap.String("uri", uri))
		result.Skipped++
		return
	}

	analysis, err := r.analyze(ctx, uri, threshold)

	// the outcome is recorded even when the run is being cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	event := ResultEvent{RunID: result.RunID, URI: uri}
	if err != nil {
		next, failErr := r.store.Fail(writeCtx, uri, r.maxAttempts)
		if failErr != nil {
			log.Error("Failed to revert image", zap.String("uri", uri), zap.Error(failErr))
			return
		}
		if next == store.StatusFailed {
			result.Failed++
		} else {
			result.Retried++
		}
		log.Warn("Image analysis failed",
			zap.String("uri", uri),
			zap.String("next_status", string(next)),
			zap.Error(err))
		event.Status = next
		event.Error = err.Error()
	} else {
		status := store.StatusScannedClean
		if analysis.HasPii {
			status = store.StatusPiiFound
		}
		if err := r.store.Complete(writeCtx, uri, status, analysis.Findings); err != nil {
			log.Error("Failed to record scan result", zap.String("uri", uri), zap.Error(err))
			return
		}
		if analysis.HasPii {
			result.PiiFound++
		} else {
			result.Clean++
		}
		event.Status = status
		event.Labels = pii.Labels(analysis.Findings)
		event.Engine = analysis.Engine
	}

	event.Duration = time.Since(start).String()
	r.events.Publish(EventScanResult, event)
	r.publishProgress(writeCtx, log, result.RunID)
}

// analyze runs the analyzer, converting a panic into an error
func (r *Runner) analyze(ctx context.Context, uri string, threshold float64) (analysis pii.Analysis, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Analyzer panic",
				zap.String("uri", uri),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("analyzer panic: %v", rec)
		}
	}()
	return r.analyzer.Analyze(ctx, uri, threshold)
}

func (r *Runner) publishProgress(ctx context.Context, log *logger.Logger, runID string) {
	progress, err := r.store.Progress(ctx)
	if err != nil {
		log.Warn("Failed to read progress", zap.Error(err))
		return
	}
	r.events.Publish(EventScanProgress, ProgressEvent{
		RunID:     runID,
		Processed: progress.Processed,
		Total:     progress.Total,
		Fraction:  progress.Fraction(),
	})
}

// Drain processes batches until one finds nothing pending or ctx ends
func (r *Runner) Drain(ctx context.Context) (*DrainResult, error) {
	start := time.Now()
	total := &DrainResult{}

	for {
		batch, err := r.ProcessBatch(ctx)
		if batch != nil && batch.Taken > 0 {
			total.add(batch)
		}
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		// stop when a batch made no progress so a stuck record cannot spin
		if batch.Taken == 0 || batch.Completed()+batch.Retried+batch.Failed == 0 {
			break
		}
	}

	total.Duration = time.Since(start)
	return total, nil
}
