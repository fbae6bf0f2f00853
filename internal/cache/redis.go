// Package cache provides a Redis-backed thumbnail index that several
// processes on one host can share.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/store"
	"go.uber.org/zap"
)

// RedisIndex stores (original URI, size bucket) -> thumbnail location in Redis
type RedisIndex struct {
	client *redis.Client
	config *Config
	logger *logger.Logger

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewRedisIndex connects to Redis and verifies the connection
func NewRedisIndex(ctx context.Context, config *Config, log *logger.Logger) (*RedisIndex, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	index := NewRedisIndexWithClient(redis.NewClient(opts), config, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := index.client.Ping(pingCtx).Err(); err != nil {
		index.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	index.logger.Info("Redis thumbnail index initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("pool_size", opts.PoolSize),
		zap.Duration("ttl", config.TTL))

	return index, nil
}

// NewRedisIndexWithClient wraps an existing client
func NewRedisIndexWithClient(client *redis.Client, config *Config, log *logger.Logger) *RedisIndex {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "photo-sentinel"
	}
	return &RedisIndex{
		client: client,
		config: config,
		logger: log.WithComponent("redis_index"),
	}
}

// Get looks up one entry
func (r *RedisIndex) Get(ctx context.Context, originalURI string, bucket int) (store.CachedPhoto, bool, error) {
	data, err := r.client.Get(ctx, r.key(originalURI, bucket)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.record(false)
		return store.CachedPhoto{}, false, nil
	}
	if err != nil {
		return store.CachedPhoto{}, false, fmt.Errorf("failed to read thumbnail entry: %w", err)
	}

	var photo store.CachedPhoto
	if err := json.Unmarshal(data, &photo); err != nil {
		r.logger.Warn("Dropping corrupted thumbnail entry", zap.Error(err))
		r.client.Del(ctx, r.key(originalURI, bucket))
		r.record(false)
		return store.CachedPhoto{}, false, nil
	}
	r.record(true)
	return photo, true, nil
}

// Put registers or replaces an entry
func (r *RedisIndex) Put(ctx context.Context, photo store.CachedPhoto) error {
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(photo)
	if err != nil {
		return fmt.Errorf("failed to marshal thumbnail entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(photo.OriginalURI, photo.SizeBucket), data, r.config.TTL)
	pipe.SAdd(ctx, r.bucketsKey(), photo.SizeBucket)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store thumbnail entry: %w", err)
	}
	return nil
}

// Load returns every entry of one bucket, ordered by original URI
func (r *RedisIndex) Load(ctx context.Context, bucket int) ([]store.CachedPhoto, error) {
	keys, err := r.scan(ctx, r.bucketPrefix(bucket)+"*")
	if err != nil {
		return nil, err
	}

	photos := make([]store.CachedPhoto, 0, len(keys))
	for i := 0; i < len(keys); i += 100 {
		end := min(i+100, len(keys))
		values, err := r.client.MGet(ctx, keys[i:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load thumbnail entries: %w", err)
		}
		for _, value := range values {
			raw, ok := value.(string)
			if !ok {
				// expired between SCAN and MGET
				continue
			}
			var photo store.CachedPhoto
			if err := json.Unmarshal([]byte(raw), &photo); err != nil {
				r.logger.Warn("Skipping corrupted thumbnail entry", zap.Error(err))
				continue
			}
			photos = append(photos, photo)
		}
	}

	sort.Slice(photos, func(i, j int) bool {
		return photos[i].OriginalURI < photos[j].OriginalURI
	})
	return photos, nil
}

// Clear removes every entry of every bucket
func (r *RedisIndex) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx, r.config.KeyPrefix+":thumb:*")
	if err != nil {
		return err
	}
	keys = append(keys, r.bucketsKey())

	for i := 0; i < len(keys); i += 100 {
		end := min(i+100, len(keys))
		if err := r.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			r.logger.Error("Failed to delete thumbnail keys", zap.Error(err))
			return fmt.Errorf("failed to delete thumbnail keys: %w", err)
		}
	}

	r.logger.Info("Thumbnail index cleared", zap.Int("deleted_keys", len(keys)-1))
	return nil
}

// Buckets lists the size buckets that have entries
func (r *RedisIndex) Buckets(ctx context.Context) ([]int, error) {
	members, err := r.client.SMembers(ctx, r.bucketsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	buckets := make([]int, 0, len(members))
	for _, m := range members {
		if b, err := strconv.Atoi(m); err == nil {
			buckets = append(buckets, b)
		}
	}
	sort.Ints(buckets)
	return buckets, nil
}

// GetStats returns hit counters plus Redis memory and key counts
func (r *RedisIndex) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	r.mu.Lock()
	stats := &CacheStats{Hits: r.hits, Misses: r.misses}
	r.mu.Unlock()

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := r.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Close closes the Redis connection
func (r *RedisIndex) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisIndex) record(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *RedisIndex) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan thumbnail keys: %w", err)
	}
	return keys, nil
}

func (r *RedisIndex) bucketPrefix(bucket int) string {
	return fmt.Sprintf("%s:thumb:%d:", r.config.KeyPrefix, bucket)
}

// key hashes the URI so keys stay short and glob-safe
func (r *RedisIndex) key(originalURI string, bucket int) string {
	sum := sha256.Sum256([]byte(originalURI))
	return r.bucketPrefix(bucket) + hex.EncodeToString(sum[:16])
}

func (r *RedisIndex) bucketsKey() string {
	return r.config.KeyPrefix + ":buckets"
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "//") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
