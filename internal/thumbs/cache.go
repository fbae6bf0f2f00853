// Package thumbs maintains the persistent thumbnail cache that feeds the
// gallery grid. Entries are restored from the index first and the rest of the
// photo set is generated in small batches afterwards.
package thumbs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/store"
	"go.uber.org/zap"
)

// EventThumbnailState is published on every state change and batch
const EventThumbnailState = "thumbnail_state"

var (
	// ErrBusy is returned when a restore or calculation is already running
	ErrBusy = errors.New("thumbnail cache is busy")
	// ErrInvalidState is returned for a request the current state does not allow
	ErrInvalidState = errors.New("invalid thumbnail cache state")
)

// Index persists (original URI, bucket) -> thumbnail location
type Index interface {
	Get(ctx context.Context, originalURI string, bucket int) (store.CachedPhoto, bool, error)
	Put(ctx context.Context, photo store.CachedPhoto) error
	Load(ctx context.Context, bucket int) ([]store.CachedPhoto, error)
	Clear(ctx context.Context) error
}

// EventSink receives state notifications
type EventSink interface {
	Publish(kind string, data interface{})
}

type noopSink struct{}

func (noopSink) Publish(string, interface{}) {}

// Options tunes the cache
type Options struct {
	BatchSize  int
	BucketStep int
}

// Status is a point-in-time view of the cache
type Status struct {
	State  State `json:"state"`
	Bucket int   `json:"bucket"`
	Total  int   `json:"total"`
	Cached int   `json:"cached"`
	Failed int   `json:"failed"`
}

// Cache is the thumbnail cache state machine
type Cache struct {
	index     Index
	generator Generator
	events    EventSink
	logger    *logger.Logger
	batchSize int
	step      int
	now       func() time.Time

	mu      sync.Mutex
	state   State
	photos  []string
	bucket  int
	entries map[string]string
	failed  int
}

// NewCache creates an idle cache. events may be nil.
func NewCache(index Index, generator Generator, events EventSink, opts Options, log *logger.Logger) *Cache {
	if events == nil {
		events = noopSink{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.BucketStep <= 0 {
		opts.BucketStep = 32
	}
	return &Cache{
		index:     index,
		generator: generator,
		events:    events,
		logger:    log.WithComponent("thumbnails"),
		batchSize: opts.BatchSize,
		step:      opts.BucketStep,
		now:       time.Now,
		state:     StateIdle,
		entries:   make(map[string]string),
	}
}

// Bucket returns the size bucket used for a requested width
func (c *Cache) Bucket(width int) int {
	return Bucket(width, c.step)
}

// State returns the current state
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the cache
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Cache) statusLocked() Status {
	return Status{
		State:  c.state,
		Bucket: c.bucket,
		Total:  len(c.photos),
		Cached: len(c.entries),
		Failed: c.failed,
	}
}

// transitionLocked moves to the next state. Caller holds mu.
func (c *Cache) transitionLocked(to State) error {
	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.state, to)
	}
	c.logger.Debug("Thumbnail cache state changed",
		zap.String("from", c.state.String()),
		zap.String("to", to.String()))
	c.state = to
	return nil
}

// transition changes state and publishes the new status
func (c *Cache) transition(to State) error {
	c.mu.Lock()
	err := c.transitionLocked(to)
	status := c.statusLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.events.Publish(EventThumbnailState, status)
	return nil
}

func (c *Cache) publish() {
	c.events.Publish(EventThumbnailState, c.Status())
}

// Sync brings the cache in line with the photo set at the given width: a
// changed set or bucket resets a settled cache, an idle cache restores from
// the index and an incomplete cache is then calculated.
func (c *Cache) Sync(ctx context.Context, photos []string, width int) error {
	state, err := c.SetPhotos(photos, width)
	if err != nil {
		return err
	}

	if state == StateIdle {
		if err := c.Restore(ctx); err != nil {
			return err
		}
	}
	if c.State() == StateRestoredFromCache {
		return c.Calculate(ctx)
	}
	return nil
}

// SetPhotos records the photo set and bucket without touching the index. A
// settled cache whose set or bucket changed returns to Idle. Repeated URIs
// are kept once. It returns the resulting state.
func (c *Cache) SetPhotos(photos []string, width int) (State, error) {
	bucket := c.Bucket(width)
	photos = uniqueURIs(photos)

	c.mu.Lock()
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()
		c.logger.Info("Thumbnail sync ignored, cache busy", zap.String("state", state.String()))
		return state, ErrBusy
	}
	changed := bucket != c.bucket || !slices.Equal(photos, c.photos)
	if changed && c.state.settled() {
		if err := c.transitionLocked(StateIdle); err != nil {
			c.mu.Unlock()
			return c.state, err
		}
	}
	if c.state == StateIdle {
		c.photos = photos
		c.bucket = bucket
		c.entries = make(map[string]string)
		c.failed = 0
	}
	state := c.state
	c.mu.Unlock()
	return state, nil
}

// Restore loads existing entries for the current photo set and bucket. The
// cache ends RestoredFromCache, or Completed when every photo was found.
func (c *Cache) Restore(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		c.logger.Info("Thumbnail restore ignored, cache busy")
		return ErrBusy
	}
	if err := c.transitionLocked(StateRestoringFromCache); err != nil {
		c.mu.Unlock()
		return err
	}
	bucket := c.bucket
	wanted := make(map[string]struct{}, len(c.photos))
	for _, uri := range c.photos {
		wanted[uri] = struct{}{}
	}
	c.mu.Unlock()
	c.publish()

	start := c.now()
	cached, err := c.index.Load(ctx, bucket)
	if err != nil {
		c.logger.Error("Failed to restore thumbnail index", zap.Error(err))
		if terr := c.transition(StateRestoredFromCache); terr != nil {
			return terr
		}
		return fmt.Errorf("failed to restore thumbnails: %w", err)
	}

	c.mu.Lock()
	for _, photo := range cached {
		if _, ok := wanted[photo.OriginalURI]; ok {
			c.entries[photo.OriginalURI] = photo.CachedURI
		}
	}
	restored := len(c.entries)
	next := StateRestoredFromCache
	if restored == len(c.photos) {
		next = StateCompleted
	}
	c.mu.Unlock()

	c.logger.Info("Thumbnails restored from cache",
		zap.Int("bucket", bucket),
		zap.Int("restored", restored),
		zap.Int("total", len(wanted)),
		zap.Duration("duration", c.now().Sub(start)))

	return c.transition(next)
}

// Calculate generates every missing thumbnail in batches. Cancelling ctx
// stops between batches and leaves the cache RestoredFromCache.
func (c *Cache) Calculate(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		c.logger.Info("Thumbnail calculation ignored, cache busy")
		return ErrBusy
	}
	if err := c.transitionLocked(StateCalculating); err != nil {
		c.mu.Unlock()
		return err
	}
	c.failed = 0
	c.mu.Unlock()
	c.publish()

	return c.calculate(ctx)
}

// Recalculate wipes the index and generated files, then calculates the
// whole photo set from empty.
func (c *Cache) Recalculate(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		c.logger.Info("Thumbnail recalculation ignored, cache busy")
		return ErrBusy
	}
	if err := c.transitionLocked(StateCalculating); err != nil {
		c.mu.Unlock()
		return err
	}
	c.entries = make(map[string]string)
	c.failed = 0
	c.mu.Unlock()
	c.publish()

	if err := c.index.Clear(ctx); err != nil {
		_ = c.transition(StateRestoredFromCache)
		return fmt.Errorf("failed to clear thumbnail index: %w", err)
	}
	if err := c.generator.Purge(); err != nil {
		_ = c.transition(StateRestoredFromCache)
		return fmt.Errorf("failed to purge thumbnails: %w", err)
	}
	c.logger.Info("Thumbnail cache wiped")

	return c.calculate(ctx)
}

// calculate runs the pass. The cache is already Calculating.
func (c *Cache) calculate(ctx context.Context) error {
	c.mu.Lock()
	photos := slices.Clone(c.photos)
	bucket := c.bucket
	c.mu.Unlock()

	start := c.now()
	generated := 0
	for i := 0; i < len(photos); i += c.batchSize {
		if err := ctx.Err(); err != nil {
			c.logger.Info("Thumbnail calculation cancelled", zap.Int("done", i))
			if terr := c.transition(StateRestoredFromCache); terr != nil {
				return terr
			}
			return err
		}

		end := min(i+c.batchSize, len(photos))
		for _, uri := range photos[i:end] {
			made, err := c.ensure(ctx, uri, bucket)
			if err != nil {
				c.logger.Warn("Failed to generate thumbnail",
					zap.String("uri", uri),
					zap.Error(err))
				c.mu.Lock()
				c.failed++
				c.mu.Unlock()
				continue
			}
			if made {
				generated++
			}
		}
		c.publish()
	}

	c.mu.Lock()
	complete := len(c.entries) == len(photos)
	failed := c.failed
	c.mu.Unlock()

	c.logger.Info("Thumbnail calculation finished",
		zap.Int("bucket", bucket),
		zap.Int("total", len(photos)),
		zap.Int("generated", generated),
		zap.Int("failed", failed),
		zap.Duration("duration", c.now().Sub(start)))

	if !complete {
		return c.transition(StateRestoredFromCache)
	}
	return c.transition(StateCompleted)
}

// ensure makes sure uri has an entry. It reports whether a thumbnail was generated.
func (c *Cache) ensure(ctx context.Context, uri string, bucket int) (bool, error) {
	c.mu.Lock()
	_, ok := c.entries[uri]
	c.mu.Unlock()
	if ok {
		return false, nil
	}

	if hit, found, err := c.index.Get(ctx, uri, bucket); err != nil {
		return false, fmt.Errorf("failed to look up thumbnail: %w", err)
	} else if found {
		c.remember(uri, hit.CachedURI)
		return false, nil
	}

	path, err := c.generator.Generate(ctx, uri, bucket)
	if err != nil {
		return false, err
	}
	if err := c.index.Put(ctx, store.CachedPhoto{
		OriginalURI: uri,
		SizeBucket:  bucket,
		CachedURI:   path,
		CreatedAt:   c.now(),
	}); err != nil {
		return false, fmt.Errorf("failed to register thumbnail: %w", err)
	}
	c.remember(uri, path)
	return true, nil
}

func (c *Cache) remember(uri, cachedURI string) {
	c.mu.Lock()
	c.entries[uri] = cachedURI
	c.mu.Unlock()
}

// Get returns the thumbnail location for uri at bucket
func (c *Cache) Get(ctx context.Context, uri string, bucket int) (string, bool, error) {
	c.mu.Lock()
	if bucket == c.bucket {
		if cached, ok := c.entries[uri]; ok {
			c.mu.Unlock()
			return cached, true, nil
		}
	}
	c.mu.Unlock()

	photo, found, err := c.index.Get(ctx, uri, bucket)
	if err != nil {
		return "", false, fmt.Errorf("failed to look up thumbnail: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return photo.CachedURI, true, nil
}

// uniqueURIs drops repeated URIs and keeps first-seen order
func uniqueURIs(photos []string) []string {
	seen := make(map[string]struct{}, len(photos))
	out := make([]string, 0, len(photos))
	for _, uri := range photos {
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	return out
}
