// Package gallery is the read-mostly facade the viewer talks to. Reads never
// return errors: persistence failures are logged and a safe default is
// returned instead.
package gallery

import (
	"context"
	"errors"
	"fmt"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/scan"
	"github.com/raaihank/photo-sentinel/internal/store"
	"github.com/raaihank/photo-sentinel/internal/thumbs"
	"go.uber.org/zap"
)

// Records is the part of the scan store the facade reads and resets
type Records interface {
	GetStatus(ctx context.Context, uri string) (store.Status, bool, error)
	GetRecord(ctx context.Context, uri string) (*store.ScanRecord, error)
	Progress(ctx context.Context) (store.Progress, error)
	CountByStatus(ctx context.Context) (map[store.Status]int64, error)
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]store.ScanRecord, error)
	ResetAll(ctx context.Context) (int64, error)
}

// Thumbnails is the part of the thumbnail cache the facade uses
type Thumbnails interface {
	Get(ctx context.Context, uri string, bucket int) (string, bool, error)
	Recalculate(ctx context.Context) error
	Status() thumbs.Status
}

// Trigger starts an immediate scan run
type Trigger interface {
	RunOnce(ctx context.Context) scan.Outcome
}

// Service is the viewer-facing API
type Service struct {
	records    Records
	thumbnails Thumbnails
	trigger    Trigger
	session    *Session
	logger     *logger.Logger
}

// NewService wires the facade. thumbnails and trigger may be nil when those
// features are disabled.
func NewService(records Records, thumbnails Thumbnails, trigger Trigger, log *logger.Logger) *Service {
	return &Service{
		records:    records,
		thumbnails: thumbnails,
		trigger:    trigger,
		session:    NewSession(),
		logger:     log.WithComponent("gallery"),
	}
}

// Session returns the viewer session
func (s *Service) Session() *Session {
	return s.session
}

// GetStatus returns the scan status of uri, or nil when unknown
func (s *Service) GetStatus(ctx context.Context, uri string) *store.Status {
	status, found, err := s.records.GetStatus(ctx, uri)
	if err != nil {
		s.logger.Error("Failed to read scan status", zap.String("uri", uri), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return &status
}

// GetRecord returns the full scan record of uri, or nil when unknown
func (s *Service) GetRecord(ctx context.Context, uri string) *store.ScanRecord {
	record, err := s.records.GetRecord(ctx, uri)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Failed to read scan record", zap.String("uri", uri), zap.Error(err))
		}
		return nil
	}
	return record
}

// GetScanProgress returns processed and total counts, zero on failure
func (s *Service) GetScanProgress(ctx context.Context) store.Progress {
	progress, err := s.records.Progress(ctx)
	if err != nil {
		s.logger.Error("Failed to read scan progress", zap.Error(err))
		return store.Progress{}
	}
	return progress
}

// Counts returns the number of records per status, empty on failure
func (s *Service) Counts(ctx context.Context) map[store.Status]int64 {
	counts, err := s.records.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to count scan records", zap.Error(err))
		return map[store.Status]int64{}
	}
	return counts
}

// GetCachedThumbnail returns the thumbnail location for uri at bucket
func (s *Service) GetCachedThumbnail(ctx context.Context, uri string, bucket int) (string, bool) {
	if s.thumbnails == nil {
		return "", false
	}
	cached, ok, err := s.thumbnails.Get(ctx, uri, bucket)
	if err != nil {
		s.logger.Error("Failed to read thumbnail index", zap.String("uri", uri), zap.Error(err))
		return "", false
	}
	return cached, ok
}

// ThumbnailStatus returns the thumbnail cache state, nil when disabled
func (s *Service) ThumbnailStatus() *thumbs.Status {
	if s.thumbnails == nil {
		return nil
	}
	status := s.thumbnails.Status()
	return &status
}

// Flagged lists records with PII, oldest first
func (s *Service) Flagged(ctx context.Context, limit int) []store.ScanRecord {
	records, err := s.records.ListRecords(ctx, store.RecordFilter{
		Statuses: []store.Status{store.StatusPiiFound},
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("Failed to list flagged records", zap.Error(err))
		return nil
	}
	return records
}

// IsHidden reports whether the viewer should blur uri
func (s *Service) IsHidden(ctx context.Context, uri string) bool {
	if !s.session.SecurityMode() || s.session.IsUnlocked(uri) {
		return false
	}
	status := s.GetStatus(ctx, uri)
	return status != nil && *status == store.StatusPiiFound
}

// RequestFullRescan resets every record to pending without re-enumerating
func (s *Service) RequestFullRescan(ctx context.Context) (int64, error) {
	reset, err := s.records.ResetAll(ctx)
	if err != nil {
		s.logger.Error("Full rescan request failed", zap.Error(err))
		return 0, fmt.Errorf("failed to reset scan records: %w", err)
	}
	s.logger.Info("Full rescan requested", zap.Int64("reset", reset))
	return reset, nil
}

// RequestCacheWipeAndRecalculate wipes the thumbnail cache and rebuilds it.
// A busy cache returns thumbs.ErrBusy and the request is dropped.
func (s *Service) RequestCacheWipeAndRecalculate(ctx context.Context) error {
	if s.thumbnails == nil {
		return errors.New("thumbnail cache is disabled")
	}
	if err := s.thumbnails.Recalculate(ctx); err != nil {
		if errors.Is(err, thumbs.ErrBusy) {
			s.logger.Info("Thumbnail recalculation ignored, already running")
		} else {
			s.logger.Error("Thumbnail recalculation failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// ForceScan runs the scheduler once right away
func (s *Service) ForceScan(ctx context.Context) scan.Outcome {
	if s.trigger == nil {
		return scan.OutcomeNoData
	}
	return s.trigger.RunOnce(ctx)
}
