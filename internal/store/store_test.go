package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/ocr"
	"github.com/raaihank/photo-sentinel/internal/pii"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), &Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "scan.db"),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func uris(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("file:///photos/img_%02d.jpg", i)
	}
	return out
}

func finish(t *testing.T, s *Store, uri string, status Status, findings []pii.Finding) {
	t.Helper()
	ctx := context.Background()
	ok, err := s.MarkProcessing(ctx, uri)
	if err != nil || !ok {
		t.Fatalf("MarkProcessing(%s) = %v, %v", uri, ok, err)
	}
	if err := s.Complete(ctx, uri, status, findings); err != nil {
		t.Fatalf("Complete(%s) failed: %v", uri, err)
	}
}

func TestInsertPendingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.InsertPending(ctx, []string{"a", "b"})
	if err != nil || n != 2 {
		t.Fatalf("First insert = %d, %v", n, err)
	}
	finish(t, s, "a", StatusScannedClean, nil)

	n, err = s.InsertPending(ctx, []string{"a", "c"})
	if err != nil || n != 1 {
		t.Fatalf("Second insert = %d, %v", n, err)
	}

	status, found, err := s.GetStatus(ctx, "a")
	if err != nil || !found || status != StatusScannedClean {
		t.Errorf("Re-enumeration changed status of a: %s %v %v", status, found, err)
	}

	progress, err := s.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if progress.Total != 3 || progress.Processed != 1 {
		t.Errorf("Unexpected progress %+v", progress)
	}
}

func TestInsertPendingLargeBatch(t *testing.T) {
	s := newTestStore(t)
	n, err := s.InsertPending(context.Background(), uris(insertChunk*2+7))
	if err != nil {
		t.Fatalf("InsertPending failed: %v", err)
	}
	if n != int64(insertChunk*2+7) {
		t.Errorf("Expected %d inserted, got %d", insertChunk*2+7, n)
	}
}

func TestResetAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	all := uris(10)
	if _, err := s.InsertPending(ctx, all); err != nil {
		t.Fatalf("InsertPending failed: %v", err)
	}

	finding := pii.Finding{Label: "EMAIL", Score: 0.9, Snippet: "a@b.com", Boxes: []ocr.BBox{{X: 1, Y: 2, Width: 3, Height: 4}}}
	for i, uri := range all {
		if i < 3 {
			finish(t, s, uri, StatusPiiFound, []pii.Finding{finding})
		} else {
			finish(t, s, uri, StatusScannedClean, nil)
		}
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[StatusPiiFound] != 3 || counts[StatusScannedClean] != 7 || counts[StatusPending] != 0 {
		t.Fatalf("Unexpected counts before reset: %v", counts)
	}

	record, err := s.GetRecord(ctx, all[0])
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if len(record.Findings) != 1 || record.Findings[0].Boxes[0].Height != 4 {
		t.Errorf("Findings not stored: %+v", record.Findings)
	}

	n, err := s.ResetAll(ctx)
	if err != nil || n != 10 {
		t.Fatalf("ResetAll = %d, %v", n, err)
	}

	counts, _ = s.CountByStatus(ctx)
	if counts[StatusPending] != 10 || counts[StatusPiiFound] != 0 || counts[StatusScannedClean] != 0 {
		t.Errorf("Unexpected counts after reset: %v", counts)
	}
	record, _ = s.GetRecord(ctx, all[0])
	if record.Findings != nil || record.Attempts != 0 {
		t.Errorf("Reset must clear findings and attempts: %+v", record)
	}
}

func TestTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertPending(ctx, []string{"a"}); err != nil {
		t.Fatalf("InsertPending failed: %v", err)
	}

	if err := s.Complete(ctx, "a", StatusScannedClean, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Completing a pending record should fail, got %v", err)
	}
	if _, err := s.Fail(ctx, "a", 3); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Failing a pending record should fail, got %v", err)
	}

	ok, err := s.MarkProcessing(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("MarkProcessing = %v, %v", ok, err)
	}
	if ok, _ := s.MarkProcessing(ctx, "a"); ok {
		t.Error("Second MarkProcessing should lose the race")
	}
	if ok, _ := s.MarkProcessing(ctx, "missing"); ok {
		t.Error("MarkProcessing of an unknown uri should report false")
	}

	var terr *TransitionError
	if err := s.Complete(ctx, "a", StatusPending, nil); !errors.As(err, &terr) || terr.To != StatusPending {
		t.Errorf("Complete with a non-terminal status should be rejected, got %v", err)
	}
	if err := s.Complete(ctx, "missing", StatusPiiFound, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.Complete(ctx, "a", StatusPiiFound, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := s.Complete(ctx, "a", StatusScannedClean, nil); !errors.As(err, &terr) || terr.From != StatusPiiFound {
		t.Errorf("Terminal records must not change, got %v", err)
	}
}

func TestFailRetriesThenGivesUp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertPending(ctx, []string{"a"}); err != nil {
		t.Fatalf("InsertPending failed: %v", err)
	}

	s.MarkProcessing(ctx, "a")
	next, err := s.Fail(ctx, "a", 2)
	if err != nil || next != StatusPending {
		t.Fatalf("First Fail = %s, %v", next, err)
	}

	s.MarkProcessing(ctx, "a")
	next, err = s.Fail(ctx, "a", 2)
	if err != nil || next != StatusFailed {
		t.Fatalf("Second Fail = %s, %v", next, err)
	}

	record, _ := s.GetRecord(ctx, "a")
	if record.Attempts != 2 || record.ProcessingStartedAt != nil {
		t.Errorf("Unexpected record after failures: %+v", record)
	}
	if _, err := s.Fail(ctx, "missing", 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)
	s.now = func() time.Time { return t0 }

	if _, err := s.InsertPending(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("InsertPending failed: %v", err)
	}
	s.MarkProcessing(ctx, "a")
	s.MarkProcessing(ctx, "b")

	n, err := s.ReclaimStale(ctx, t0.Add(-time.Minute), 3)
	if err != nil || n != 0 {
		t.Fatalf("Fresh leases must not be reclaimed: %d, %v", n, err)
	}

	n, err = s.ReclaimStale(ctx, t0.Add(time.Second), 3)
	if err != nil || n != 2 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	pending, _ := s.ListPending(ctx, 0)
	if len(pending) != 3 {
		t.Errorf("Expected 3 pending after reclaim, got %d", len(pending))
	}

	// a lease lost on the last allowed attempt fails the record
	s.MarkProcessing(ctx, "a")
	n, err = s.ReclaimStale(ctx, t0.Add(time.Second), 2)
	if err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	if status, _, _ := s.GetStatus(ctx, "a"); status != StatusFailed {
		t.Errorf("Expected a to fail after exhausting attempts, got %s", status)
	}
}

func TestListRecordsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	all := uris(5)
	s.InsertPending(ctx, all)
	finish(t, s, all[1], StatusPiiFound, nil)

	pending, err := s.ListPending(ctx, 2)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].URI != all[0] || pending[1].URI != all[2] {
		t.Errorf("Expected FIFO pending order, got %+v", pending)
	}

	var seen []string
	var after int64
	for {
		page, err := s.ListRecords(ctx, RecordFilter{AfterID: after, Limit: 2})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.URI)
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 5 || seen[4] != all[4] {
		t.Errorf("Paging returned %v", seen)
	}

	flagged, _ := s.ListRecords(ctx, RecordFilter{Statuses: []Status{StatusPiiFound}})
	if len(flagged) != 1 || flagged[0].URI != all[1] {
		t.Errorf("Status filter returned %+v", flagged)
	}
}

func TestCacheIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idx := s.CacheIndex()

	if _, ok, err := idx.Get(ctx, "a", 256); err != nil || ok {
		t.Fatalf("Empty index Get = %v, %v", ok, err)
	}

	idx.Put(ctx, CachedPhoto{OriginalURI: "a", SizeBucket: 256, CachedURI: "/t/a_256.jpg"})
	idx.Put(ctx, CachedPhoto{OriginalURI: "b", SizeBucket: 256, CachedURI: "/t/b_256.jpg"})
	idx.Put(ctx, CachedPhoto{OriginalURI: "a", SizeBucket: 128, CachedURI: "/t/a_128.jpg"})
	if err := idx.Put(ctx, CachedPhoto{OriginalURI: "a", SizeBucket: 256, CachedURI: "/t/a_256_v2.jpg"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	photo, ok, err := idx.Get(ctx, "a", 256)
	if err != nil || !ok || photo.CachedURI != "/t/a_256_v2.jpg" {
		t.Errorf("Get after upsert = %+v, %v, %v", photo, ok, err)
	}

	loaded, err := idx.Load(ctx, 256)
	if err != nil || len(loaded) != 2 {
		t.Fatalf("Load = %+v, %v", loaded, err)
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if loaded, _ := idx.Load(ctx, 128); len(loaded) != 0 {
		t.Errorf("Expected empty index after clear, got %+v", loaded)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusPiiFound, false},
		{StatusProcessing, StatusPiiFound, true},
		{StatusProcessing, StatusScannedClean, true},
		{StatusProcessing, StatusPending, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPiiFound, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgres://user:secret@db:5432/scan": "postgres://user:***@db:5432/scan",
		"postgres://user@db/scan":             "postgres://user@db/scan",
		"file:/tmp/scan.db?_pragma=x":         "file:/tmp/scan.db?_pragma=x",
	}
	for in, want := range tests {
		if got := maskDatabaseURL(in); got != want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
