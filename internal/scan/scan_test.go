package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"github.com/raaihank/photo-sentinel/internal/store"
)

// countingStore counts every statement that changes a record
type countingStore struct {
	*store.Store
	mu     sync.Mutex
	writes int
}

func (c *countingStore) add(n int) {
	c.mu.Lock()
	c.writes += n
	c.mu.Unlock()
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingStore) InsertPending(ctx context.Context, uris []string) (int64, error) {
	n, err := c.Store.InsertPending(ctx, uris)
	c.add(int(n))
	return n, err
}

func (c *countingStore) MarkProcessing(ctx context.Context, uri string) (bool, error) {
	ok, err := c.Store.MarkProcessing(ctx, uri)
	if ok {
		c.add(1)
	}
	return ok, err
}

func (c *countingStore) Complete(ctx context.Context, uri string, status store.Status, findings []pii.Finding) error {
	c.add(1)
	return c.Store.Complete(ctx, uri, status, findings)
}

func (c *countingStore) Fail(ctx context.Context, uri string, maxAttempts int) (store.Status, error) {
	c.add(1)
	return c.Store.Fail(ctx, uri, maxAttempts)
}

func (c *countingStore) ReclaimStale(ctx context.Context, before time.Time, maxAttempts int) (int64, error) {
	n, err := c.Store.ReclaimStale(ctx, before, maxAttempts)
	c.add(int(n))
	return n, err
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	s, err := store.Open(context.Background(), &store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "scan.db"),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &countingStore{Store: s}
}

type behavior int

const (
	clean behavior = iota
	found
	fails
	panics
)

type fakeAnalyzer struct {
	mu         sync.Mutex
	behaviors  map[string]behavior
	calls      []string
	thresholds []float64
	onCall     func()
}

func (f *fakeAnalyzer) Analyze(_ context.Context, uri string, threshold float64) (pii.Analysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, uri)
	f.thresholds = append(f.thresholds, threshold)
	b := f.behaviors[uri]
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}

	switch b {
	case found:
		return pii.Analysis{HasPii: true, Engine: pii.EngineHeuristic, Findings: []pii.Finding{{Label: "EMAIL", Score: 0.9}}}, nil
	case fails:
		return pii.Analysis{}, errors.New("ocr exploded")
	case panics:
		panic("decoder bug")
	default:
		return pii.Analysis{Findings: []pii.Finding{}}, nil
	}
}

type recordedEvent struct {
	kind string
	data interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(kind string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, data})
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type sliceSource struct {
	uris []string
}

func (s sliceSource) List(_ context.Context, cursor string, limit int) (media.Page, error) {
	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	end := offset + limit
	if end > len(s.uris) {
		end = len(s.uris)
	}
	page := media.Page{}
	for _, uri := range s.uris[offset:end] {
		page.Assets = append(page.Assets, media.Asset{URI: uri, ID: media.AssetID(uri)})
	}
	if end < len(s.uris) {
		page.HasNext = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func makeURIs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("file:///photos/%03d.jpg", i)
	}
	return out
}

func TestEnumerateIsIdempotent(t *testing.T) {
	s := newCountingStore(t)
	e := NewEnumerator(sliceSource{uris: makeURIs(250)}, s, 100, logger.NewNop())

	first, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if first.Pages != 3 || first.Seen != 250 || first.Inserted != 250 {
		t.Errorf("Unexpected first pass %+v", first)
	}

	second, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if second.Inserted != 0 || second.Seen != 250 {
		t.Errorf("Second pass should insert nothing, got %+v", second)
	}

	progress, _ := s.Progress(context.Background())
	if progress.Total != 250 {
		t.Errorf("Expected 250 records, got %d", progress.Total)
	}
}

func TestProcessBatch(t *testing.T) {
	s := newCountingStore(t)
	ctx := context.Background()
	s.InsertPending(ctx, []string{"a", "b", "c", "d", "e"})

	analyzer := &fakeAnalyzer{behaviors: map[string]behavior{"a": found, "c": fails, "d": panics}}
	events := &recorder{}
	r := NewRunner(s, analyzer, events, Options{BatchSize: 10, MaxAttempts: 2, Threshold: 0.6}, logger.NewNop())

	result, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.RunID == "" {
		t.Error("Expected a run id")
	}
	if result.Taken != 5 || result.PiiFound != 1 || result.Clean != 2 || result.Retried != 2 || result.Failed != 0 {
		t.Errorf("Unexpected batch result %+v", result)
	}

	for uri, want := range map[string]store.Status{
		"a": store.StatusPiiFound,
		"b": store.StatusScannedClean,
		"c": store.StatusPending,
		"d": store.StatusPending,
	} {
		if got, _, _ := s.GetStatus(ctx, uri); got != want {
			t.Errorf("Status of %s = %s, want %s", uri, got, want)
		}
	}
	record, _ := s.GetRecord(ctx, "a")
	if len(record.Findings) != 1 || record.Findings[0].Label != "EMAIL" {
		t.Errorf("Findings not stored: %+v", record.Findings)
	}
	if events.count(EventScanResult) != 5 || events.count(EventScanProgress) != 5 {
		t.Errorf("Expected 5 result and progress events, got %d and %d",
			events.count(EventScanResult), events.count(EventScanProgress))
	}

	result, err = r.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Taken != 2 || result.Failed != 2 {
		t.Errorf("Expected retried images to fail permanently, got %+v", result)
	}

	before := s.Writes()
	result, err = r.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Taken != 0 {
		t.Errorf("Expected empty batch, got %+v", result)
	}
	if s.Writes() != before {
		t.Errorf("Empty batch wrote %d records", s.Writes()-before)
	}
}

func TestProcessBatchRespectsBatchSize(t *testing.T) {
	s := newCountingStore(t)
	ctx := context.Background()
	all := makeURIs(30)
	s.InsertPending(ctx, all)

	analyzer := &fakeAnalyzer{}
	r := NewRunner(s, analyzer, nil, Options{BatchSize: 25, Threshold: 0.6}, logger.NewNop())

	result, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Taken != 25 {
		t.Errorf("Expected 25 images, got %d", result.Taken)
	}
	for i, uri := range analyzer.calls {
		if uri != all[i] {
			t.Fatalf("Expected FIFO order, call %d was %s", i, uri)
		}
	}

	drained, err := r.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if drained.Clean != 5 || drained.Batches != 1 {
		t.Errorf("Unexpected drain result %+v", drained)
	}
	progress, _ := s.Progress(ctx)
	if progress.Processed != 30 || progress.Fraction() != 1 {
		t.Errorf("Unexpected progress %+v", progress)
	}
}

func TestThresholdIsApplied(t *testing.T) {
	s := newCountingStore(t)
	ctx := context.Background()
	s.InsertPending(ctx, []string{"a", "b"})

	analyzer := &fakeAnalyzer{}
	r := NewRunner(s, analyzer, nil, Options{BatchSize: 1, Threshold: 0.6}, logger.NewNop())

	r.ProcessBatch(ctx)
	r.SetThreshold(0.9)
	r.ProcessBatch(ctx)

	if len(analyzer.thresholds) != 2 || analyzer.thresholds[0] != 0.6 || analyzer.thresholds[1] != 0.9 {
		t.Errorf("Unexpected thresholds %v", analyzer.thresholds)
	}
}

func TestProcessBatchCancelled(t *testing.T) {
	s := newCountingStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.InsertPending(context.Background(), []string{"a", "b", "c"})

	analyzer := &fakeAnalyzer{onCall: cancel}
	r := NewRunner(s, analyzer, nil, Options{Threshold: 0.6}, logger.NewNop())

	result, err := r.ProcessBatch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if result.Taken != 1 || result.Clean != 1 {
		t.Errorf("Expected the in-flight image to complete, got %+v", result)
	}

	pending, _ := s.ListPending(context.Background(), 0)
	if len(pending) != 2 {
		t.Errorf("Expected 2 images left pending, got %d", len(pending))
	}
}

func TestProcessBatchReclaimsStaleLeases(t *testing.T) {
	s := newCountingStore(t)
	ctx := context.Background()
	s.InsertPending(ctx, []string{"a"})
	s.MarkProcessing(ctx, "a")

	r := NewRunner(s, &fakeAnalyzer{}, nil, Options{Lease: time.Minute, Threshold: 0.6}, logger.NewNop())
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Reclaimed != 1 || result.Clean != 1 {
		t.Errorf("Expected the abandoned image to be reclaimed and scanned, got %+v", result)
	}
}

type fakeDrainer struct {
	mu      sync.Mutex
	calls   int
	result  *DrainResult
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeDrainer) Drain(context.Context) (*DrainResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.result == nil {
		return &DrainResult{}, f.err
	}
	return f.result, f.err
}

func (f *fakeDrainer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSchedulerRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("new data", func(t *testing.T) {
		d := &fakeDrainer{result: &DrainResult{Batches: 1, Clean: 3}}
		events := &recorder{}
		s := NewScheduler(d, nil, events, SchedulerOptions{}, logger.NewNop())
		if got := s.RunOnce(ctx); got != OutcomeNewData {
			t.Errorf("RunOnce = %s, want new_data", got)
		}
		if events.count(EventScanRun) != 1 {
			t.Error("Expected a scan_run event")
		}
	})

	t.Run("no data", func(t *testing.T) {
		s := NewScheduler(&fakeDrainer{}, nil, nil, SchedulerOptions{}, logger.NewNop())
		if got := s.RunOnce(ctx); got != OutcomeNoData {
			t.Errorf("RunOnce = %s, want no_data", got)
		}
	})

	t.Run("failed", func(t *testing.T) {
		s := NewScheduler(&fakeDrainer{err: errors.New("db gone")}, nil, nil, SchedulerOptions{}, logger.NewNop())
		if got := s.RunOnce(ctx); got != OutcomeFailed {
			t.Errorf("RunOnce = %s, want failed", got)
		}
	})

	t.Run("power policy", func(t *testing.T) {
		d := &fakeDrainer{result: &DrainResult{Clean: 1}}
		s := NewScheduler(d, nil, nil, SchedulerOptions{RequireChargingOrWiFi: true}, logger.NewNop())
		if got := s.RunOnce(ctx); got != OutcomeNoData || d.Calls() != 0 {
			t.Errorf("Expected the run to be skipped, got %s with %d drains", got, d.Calls())
		}

		s.SetConditions(Conditions{OnWiFi: true})
		if got := s.RunOnce(ctx); got != OutcomeNewData || d.Calls() != 1 {
			t.Errorf("Expected the run to proceed on wifi, got %s", got)
		}
	})

	t.Run("enumerates first", func(t *testing.T) {
		st := newCountingStore(t)
		runner := NewRunner(st, &fakeAnalyzer{}, nil, Options{BatchSize: 2, Threshold: 0.6}, logger.NewNop())
		enum := NewEnumerator(sliceSource{uris: makeURIs(5)}, st, 100, logger.NewNop())
		s := NewScheduler(runner, enum, nil, SchedulerOptions{EnumerateOnRun: true}, logger.NewNop())

		if got := s.RunOnce(ctx); got != OutcomeNewData {
			t.Errorf("RunOnce = %s, want new_data", got)
		}
		if got := s.RunOnce(ctx); got != OutcomeNoData {
			t.Errorf("Second RunOnce = %s, want no_data", got)
		}
	})
}

func TestSchedulerSingleFlight(t *testing.T) {
	d := &fakeDrainer{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(d, nil, nil, SchedulerOptions{}, logger.NewNop())

	done := make(chan Outcome)
	go func() { done <- s.RunOnce(context.Background()) }()
	<-d.started

	if got := s.RunOnce(context.Background()); got != OutcomeNoData {
		t.Errorf("Concurrent RunOnce = %s, want no_data", got)
	}
	close(d.block)
	<-done

	if d.Calls() != 1 {
		t.Errorf("Expected a single drain, got %d", d.Calls())
	}
}

func TestSchedulerStart(t *testing.T) {
	d := &fakeDrainer{started: make(chan struct{}, 4)}
	s := NewScheduler(d, nil, nil, SchedulerOptions{Interval: time.Hour, RunOnStart: true}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- s.Start(ctx) }()

	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a run on start")
	}

	s.SetInterval(10 * time.Millisecond)
	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a run after shortening the interval")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start returned %v", err)
	}
	if s.Interval() != 10*time.Millisecond {
		t.Errorf("Interval = %s", s.Interval())
	}
}
