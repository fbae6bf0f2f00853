package main

import (
	"context"
	"fmt"

	"github.com/raaihank/photo-sentinel/internal/analyzer"
	"github.com/raaihank/photo-sentinel/internal/cache"
	"github.com/raaihank/photo-sentinel/internal/config"
	"github.com/raaihank/photo-sentinel/internal/etl"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"github.com/raaihank/photo-sentinel/internal/ner"
	"github.com/raaihank/photo-sentinel/internal/ocr"
	"github.com/raaihank/photo-sentinel/internal/privacy"
	"github.com/raaihank/photo-sentinel/internal/scan"
	"github.com/raaihank/photo-sentinel/internal/store"
	"github.com/raaihank/photo-sentinel/internal/thumbs"
	"github.com/raaihank/photo-sentinel/internal/websocket"
	"go.uber.org/zap"
)

const photoPageSize = 1000

// app holds the components wired from one configuration
type app struct {
	cfg    *config.Config
	logger *logger.Logger

	store      *store.Store
	recognizer *ner.Recognizer
	ocr        ocr.Adapter
	analyzer   *analyzer.Analyzer
	enumerator *scan.Enumerator
	runner     *scan.Runner
	scheduler  *scan.Scheduler
	thumbnails *thumbs.Cache // nil when disabled
	redis      *cache.RedisIndex
	hub        *websocket.Hub // nil unless serving
}

// newApp wires the pipeline. withHub adds the websocket hub as event sink;
// one-shot commands run without it.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, withHub bool) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	st, err := store.Open(ctx, &store.Config{
		Driver:          cfg.Storage.Driver,
		Path:            cfg.Storage.Path,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan store: %w", err)
	}
	a.store = st

	if withHub && cfg.WebSocket.Enabled {
		a.hub = websocket.NewHub(&websocket.HubConfig{
			MaxConnections:       cfg.WebSocket.MaxConnections,
			ReadBufferSize:       cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:      cfg.WebSocket.WriteBufferSize,
			PingInterval:         cfg.WebSocket.PingInterval,
			PongTimeout:          cfg.WebSocket.PongTimeout,
			WriteTimeout:         cfg.WebSocket.WriteTimeout,
			MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
			BroadcastProgress:    cfg.WebSocket.Events.BroadcastProgress,
			BroadcastResults:     cfg.WebSocket.Events.BroadcastResults,
			BroadcastThumbnails:  cfg.WebSocket.Events.BroadcastThumbnails,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		}, log)
	}

	a.ocr, err = ocr.New(cfg.OCR.Engine, ocr.Options{
		Binary:        cfg.OCR.Binary,
		Languages:     cfg.OCR.Languages,
		PageSegMode:   cfg.OCR.PageSegMode,
		MinConfidence: cfg.OCR.MinConfidence,
		Timeout:       cfg.OCR.Timeout,
	}, log)
	if err != nil {
		// The scanner still runs, every photo reads as empty text
		log.Warn("OCR engine unavailable, text recognition disabled",
			zap.String("engine", cfg.OCR.Engine),
			zap.Error(err))
		a.ocr = ocr.Disabled{}
	}

	a.recognizer = ner.NewRecognizer(ner.Options{
		Enabled:       cfg.Model.Enabled,
		AssetDir:      cfg.Model.AssetDir,
		LocalDir:      cfg.Model.LocalDir,
		ModelFile:     cfg.Model.ModelFile,
		VocabFile:     cfg.Model.VocabFile,
		TokenizerFile: cfg.Model.TokenizerFile,
		LabelsFile:    cfg.Model.LabelsFile,
		MaxLength:     cfg.Model.MaxLength,
		SharedLibrary: cfg.Model.SharedLibrary,
		Timeout:       cfg.Model.Timeout,
	}, log, nil)

	heuristic, err := privacy.New(cfg.Analyzer.Detectors, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to configure heuristic detectors: %w", err)
	}

	a.analyzer = analyzer.New(a.ocr, a.recognizer, heuristic, analyzer.FilterConfig{
		BroadLabels:        cfg.Analyzer.BroadLabels,
		ShortAllowlist:     cfg.Analyzer.ShortAllowlist,
		CommonWords:        cfg.Analyzer.CommonWords,
		CommonWordMinScore: cfg.Analyzer.CommonWordMinScore,
		SnippetContext:     cfg.Analyzer.SnippetContext,
	}, log)

	var source media.Source
	if cfg.Media.Manifest != "" {
		source = etl.NewManifestSource(cfg.Media.Manifest, log)
	} else {
		source = media.NewDirectorySource(cfg.Media.Roots, cfg.Media.Extensions, log)
	}
	a.enumerator = scan.NewEnumerator(source, st, cfg.Media.PageSize, log)

	var scanEvents scan.EventSink
	if a.hub != nil {
		scanEvents = a.hub
	}
	a.runner = scan.NewRunner(st, a.analyzer, scanEvents, scan.Options{
		BatchSize:   cfg.Scanner.BatchSize,
		MaxAttempts: cfg.Scanner.MaxAttempts,
		Lease:       cfg.Scanner.ProcessingLease,
		Threshold:   cfg.Scanner.ConfidenceThreshold,
	}, log)

	var enumerator scan.MediaEnumerator
	if cfg.Scanner.EnumerateOnRun {
		enumerator = a.enumerator
	}
	a.scheduler = scan.NewScheduler(a.runner, enumerator, scanEvents, scan.SchedulerOptions{
		Interval:              cfg.Schedule.Interval,
		RunOnStart:            cfg.Schedule.RunOnStart,
		EnumerateOnRun:        cfg.Scanner.EnumerateOnRun,
		RequireChargingOrWiFi: cfg.Schedule.RequireChargingOrWiFi,
		Conditions: scan.Conditions{
			Charging: cfg.Schedule.Charging,
			OnWiFi:   cfg.Schedule.OnWiFi,
		},
	}, log)

	if cfg.Thumbnails.Enabled {
		if err := a.wireThumbnails(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) wireThumbnails(ctx context.Context) error {
	var index thumbs.Index = a.store.CacheIndex()
	if a.cfg.Thumbnails.Index == "redis" {
		redisIndex, err := cache.NewRedisIndex(ctx, &cache.Config{
			RedisURL:     a.cfg.Redis.URL,
			PoolSize:     a.cfg.Redis.PoolSize,
			MinIdleConns: a.cfg.Redis.MinIdleConns,
			DialTimeout:  a.cfg.Redis.DialTimeout,
			ReadTimeout:  a.cfg.Redis.ReadTimeout,
			WriteTimeout: a.cfg.Redis.WriteTimeout,
			TTL:          a.cfg.Redis.TTL,
			KeyPrefix:    a.cfg.Redis.Prefix,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect thumbnail index: %w", err)
		}
		a.redis = redisIndex
		index = redisIndex
	}

	generator, err := thumbs.NewImagingGenerator(a.cfg.Thumbnails.Dir, a.cfg.Thumbnails.Quality)
	if err != nil {
		return fmt.Errorf("failed to prepare thumbnail directory: %w", err)
	}

	var events thumbs.EventSink
	if a.hub != nil {
		events = a.hub
	}
	a.thumbnails = thumbs.NewCache(index, generator, events, thumbs.Options{
		BatchSize:  a.cfg.Thumbnails.BatchSize,
		BucketStep: a.cfg.Thumbnails.BucketStep,
	}, a.logger)
	return nil
}

// photoSet lists every photo known to the scan queue, in queue order
func (a *app) photoSet(ctx context.Context) ([]string, error) {
	var (
		uris    []string
		afterID int64
	)
	for {
		records, err := a.store.ListRecords(ctx, store.RecordFilter{AfterID: afterID, Limit: photoPageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to list photos: %w", err)
		}
		for _, record := range records {
			uris = append(uris, record.URI)
		}
		if len(records) < photoPageSize {
			return uris, nil
		}
		afterID = records[len(records)-1].ID
	}
}

// syncThumbnails brings the thumbnail cache in line with the current library
func (a *app) syncThumbnails(ctx context.Context, width int) error {
	if a.thumbnails == nil {
		return nil
	}
	photos, err := a.photoSet(ctx)
	if err != nil {
		return err
	}
	return a.thumbnails.Sync(ctx, photos, width)
}

// Close releases the model session and storage connections
func (a *app) Close() {
	if a.recognizer != nil {
		if err := a.recognizer.Release(); err != nil {
			a.logger.Warn("Failed to release recognizer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close thumbnail index", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close scan store", zap.Error(err))
		}
	}
}
