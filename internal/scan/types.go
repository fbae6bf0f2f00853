// Package scan drives the background PII scan: enumeration into the queue,
// sequential batch processing and the periodic scheduler.
package scan

import (
	"context"
	"time"

	"github.com/raaihank/photo-sentinel/internal/pii"
	"github.com/raaihank/photo-sentinel/internal/store"
)

// Event kinds published to the EventSink
const (
	EventScanProgress = "scan_progress"
	EventScanResult   = "scan_result"
	EventScanRun      = "scan_run"
)

// Analyzer produces the PII analysis of one image
type Analyzer interface {
	Analyze(ctx context.Context, uri string, threshold float64) (pii.Analysis, error)
}

// RecordStore is the queue the runner reads and updates
type RecordStore interface {
	InsertPending(ctx context.Context, uris []string) (int64, error)
	ListPending(ctx context.Context, limit int) ([]store.ScanRecord, error)
	MarkProcessing(ctx context.Context, uri string) (bool, error)
	Complete(ctx context.Context, uri string, status store.Status, findings []pii.Finding) error
	Fail(ctx context.Context, uri string, maxAttempts int) (store.Status, error)
	ReclaimStale(ctx context.Context, before time.Time, maxAttempts int) (int64, error)
	Progress(ctx context.Context) (store.Progress, error)
}

// EventSink receives progress notifications
type EventSink interface {
	Publish(kind string, data interface{})
}

type noopSink struct{}

func (noopSink) Publish(string, interface{}) {}

// Options tunes the batch runner
type Options struct {
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	Threshold   float64
}

// BatchResult summarizes one ProcessBatch call
type BatchResult struct {
	RunID     string        `json:"run_id"`
	Taken     int           `json:"taken"`
	PiiFound  int           `json:"pii_found"`
	Clean     int           `json:"clean"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Reclaimed int64         `json:"reclaimed"`
	Duration  time.Duration `json:"duration"`
}

// Completed returns how many images reached a scanned status
func (b *BatchResult) Completed() int {
	return b.PiiFound + b.Clean
}

// DrainResult aggregates the batches of one Drain call
type DrainResult struct {
	Batches  int           `json:"batches"`
	PiiFound int           `json:"pii_found"`
	Clean    int           `json:"clean"`
	Retried  int           `json:"retried"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Touched reports whether the drain changed any record
func (d *DrainResult) Touched() bool {
	return d.PiiFound+d.Clean+d.Retried+d.Failed > 0
}

func (d *DrainResult) add(b *BatchResult) {
	d.Batches++
	d.PiiFound += b.PiiFound
	d.Clean += b.Clean
	d.Retried += b.Retried
	d.Failed += b.Failed
}

// Outcome is the result of a scheduled run
type Outcome int

const (
	OutcomeNoData Outcome = iota
	OutcomeNewData
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNewData:
		return "new_data"
	case OutcomeFailed:
		return "failed"
	default:
		return "no_data"
	}
}

// Conditions describes the device state a run is gated on
type Conditions struct {
	Charging bool `json:"charging"`
	OnWiFi   bool `json:"on_wifi"`
}

// ProgressEvent is published after every processed image
type ProgressEvent struct {
	RunID     string  `json:"run_id"`
	Processed int64   `json:"processed"`
	Total     int64   `json:"total"`
	Fraction  float64 `json:"fraction"`
}

// ResultEvent is published when an image leaves Processing
type ResultEvent struct {
	RunID    string       `json:"run_id"`
	URI      string       `json:"uri"`
	Status   store.Status `json:"status"`
	Labels   []string     `json:"labels,omitempty"`
	Engine   pii.Engine   `json:"engine,omitempty"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

// RunEvent is published when a scheduled run finishes
type RunEvent struct {
	Outcome string       `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Result  *DrainResult `json:"result,omitempty"`
}
