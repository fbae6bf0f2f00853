package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"go.uber.org/zap"
)

const defaultPageSize = 100

// PendingInserter is the slice of the store the enumerator needs
type PendingInserter interface {
	InsertPending(ctx context.Context, uris []string) (int64, error)
}

// EnumerateResult summarizes one enumeration pass
type EnumerateResult struct {
	Pages    int           `json:"pages"`
	Seen     int64         `json:"seen"`
	Inserted int64         `json:"inserted"`
	Duration time.Duration `json:"duration"`
}

// Enumerator copies the media library into the scan queue
type Enumerator struct {
	source   media.Source
	store    PendingInserter
	pageSize int
	logger   *logger.Logger
}

// NewEnumerator creates an enumerator reading pageSize assets at a time
func NewEnumerator(source media.Source, store PendingInserter, pageSize int, log *logger.Logger) *Enumerator {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Enumerator{
		source:   source,
		store:    store,
		pageSize: pageSize,
		logger:   log.WithComponent("enumerator"),
	}
}

// Enumerate inserts every listed asset as Pending. Known URIs are left alone,
// so repeated passes only add new photos.
func (e *Enumerator) Enumerate(ctx context.Context) (*EnumerateResult, error) {
	start := time.Now()
	result := &EnumerateResult{}
	cursor := ""

	for {
		page, err := e.source.List(ctx, cursor, e.pageSize)
		if err != nil {
			return result, fmt.Errorf("failed to list media page %d: %w", result.Pages+1, err)
		}
		result.Pages++

		if len(page.Assets) > 0 {
			uris := make([]string, len(page.Assets))
			for i, asset := range page.Assets {
				uris[i] = asset.URI
			}
			inserted, err := e.store.InsertPending(ctx, uris)
			if err != nil {
				return result, fmt.Errorf("failed to queue media page %d: %w", result.Pages, err)
			}
			result.Seen += int64(len(uris))
			result.Inserted += inserted
		}

		if !page.HasNext {
			break
		}
		cursor = page.NextCursor
	}

	result.Duration = time.Since(start)
	e.logger.Info("Media enumerated",
		zap.Int("pages", result.Pages),
		zap.Int64("seen", result.Seen),
		zap.Int64("inserted", result.Inserted),
		zap.Duration("duration", result.Duration))

	return result, nil
}
