package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CacheIndex maps (original uri, size bucket) to a generated thumbnail
type CacheIndex struct {
	store *Store
}

// Get returns the cached entry for uri at bucket
func (c *CacheIndex) Get(ctx context.Context, originalURI string, bucket int) (CachedPhoto, bool, error) {
	var row cacheRow
	err := c.store.db.GetContext(ctx, &row, c.store.rebind(`
		SELECT original_uri, size_bucket, cached_uri, created_at
		FROM cache_index
		WHERE original_uri = ? AND size_bucket = ?`), originalURI, bucket)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedPhoto{}, false, nil
	}
	if err != nil {
		return CachedPhoto{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return row.photo(), true, nil
}

// Put inserts or replaces an entry
func (c *CacheIndex) Put(ctx context.Context, photo CachedPhoto) error {
	created := photo.CreatedAt
	if created.IsZero() {
		created = c.store.now()
	}
	_, err := c.store.db.ExecContext(ctx, c.store.rebind(`
		INSERT INTO cache_index (original_uri, size_bucket, cached_uri, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (original_uri, size_bucket)
		DO UPDATE SET cached_uri = excluded.cached_uri, created_at = excluded.created_at`),
		photo.OriginalURI, photo.SizeBucket, photo.CachedURI, created.Unix())
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// Load returns every entry for a size bucket
func (c *CacheIndex) Load(ctx context.Context, bucket int) ([]CachedPhoto, error) {
	var rows []cacheRow
	err := c.store.db.SelectContext(ctx, &rows, c.store.rebind(`
		SELECT original_uri, size_bucket, cached_uri, created_at
		FROM cache_index
		WHERE size_bucket = ?
		ORDER BY original_uri`), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	photos := make([]CachedPhoto, len(rows))
	for i, row := range rows {
		photos[i] = row.photo()
	}
	return photos, nil
}

// Clear removes every entry
func (c *CacheIndex) Clear(ctx context.Context) error {
	res, err := c.store.db.ExecContext(ctx, `DELETE FROM cache_index`)
	if err != nil {
		return fmt.Errorf("failed to clear cache index: %w", err)
	}
	n, _ := res.RowsAffected()
	c.store.logger.Info("Thumbnail index cleared", zap.Int64("entries", n))
	return nil
}
