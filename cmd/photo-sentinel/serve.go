package main

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/photo-sentinel/internal/api"
	"github.com/raaihank/photo-sentinel/internal/config"
	"github.com/raaihank/photo-sentinel/internal/gallery"
	"github.com/raaihank/photo-sentinel/internal/thumbs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background scanner, thumbnail cache and dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, cfg, log, true)
		if err != nil {
			return err
		}
		defer a.Close()

		log.Info("Starting Photo Sentinel",
			zap.String("version", version),
			zap.String("commit", commit),
			zap.String("build_date", date),
			zap.Int("port", cfg.Server.Port),
			zap.String("ocr", a.ocr.Name()),
			zap.Bool("model", a.recognizer.Available()))

		var thumbnails gallery.Thumbnails
		if a.thumbnails != nil {
			thumbnails = a.thumbnails
		}
		svc := gallery.NewService(a.store, thumbnails, a.scheduler, log)
		server := api.New(cfg, svc, a.scheduler, a.hub, log)

		config.Watch(func(updated *config.Config) {
			a.runner.SetThreshold(updated.Scanner.ConfidenceThreshold)
			a.scheduler.SetInterval(updated.Schedule.Interval)
			a.scheduler.SetRequireChargingOrWiFi(updated.Schedule.RequireChargingOrWiFi)
			log.Info("Configuration reloaded",
				zap.Float64("confidence_threshold", updated.Scanner.ConfidenceThreshold),
				zap.Duration("interval", updated.Schedule.Interval))
		}, func(err error) {
			log.Warn("Ignoring configuration change", zap.Error(err))
		})

		g, gctx := errgroup.WithContext(ctx)

		if a.hub != nil {
			g.Go(func() error { return a.hub.Run(gctx) })
		}
		if cfg.Schedule.Enabled {
			g.Go(func() error { return a.scheduler.Start(gctx) })
		}
		if a.thumbnails != nil {
			g.Go(func() error {
				a.keepThumbnailsInSync(gctx, cfg.Thumbnails.TargetWidth, cfg.Schedule.Interval)
				return nil
			})
		}
		g.Go(func() error { return server.Start(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Photo Sentinel stopped with error", zap.Error(err))
			return err
		}
		log.Info("Shutdown complete")
		return nil
	},
}

// keepThumbnailsInSync syncs the cache on start and then on every tick, so
// photos added by enumeration get thumbnails without a restart
func (a *app) keepThumbnailsInSync(ctx context.Context, width int, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := a.syncThumbnails(ctx, width); err != nil {
			switch {
			case errors.Is(err, thumbs.ErrBusy):
				a.logger.Debug("Thumbnail cache busy, sync skipped")
			case ctx.Err() != nil:
				return
			default:
				a.logger.Warn("Thumbnail sync failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
