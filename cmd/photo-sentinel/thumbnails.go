package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var thumbnailsCmd = &cobra.Command{
	Use:   "thumbnails",
	Short: "Build the thumbnail cache for the current photo set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, cfg, log, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.thumbnails == nil {
			return errors.New("thumbnails are disabled in the configuration")
		}

		width, _ := cmd.Flags().GetInt("width")
		if width <= 0 {
			width = cfg.Thumbnails.TargetWidth
		}

		if recalculate, _ := cmd.Flags().GetBool("recalculate"); recalculate {
			photos, err := a.photoSet(ctx)
			if err != nil {
				return err
			}
			if _, err := a.thumbnails.SetPhotos(photos, width); err != nil {
				return err
			}
			if err := a.thumbnails.Recalculate(ctx); err != nil {
				return err
			}
		} else if err := a.syncThumbnails(ctx, width); err != nil {
			return err
		}

		status := a.thumbnails.Status()
		fmt.Printf("Thumbnail cache %s: bucket %d, %d/%d cached, %d failed\n",
			status.State, status.Bucket, status.Cached, status.Total, status.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(thumbnailsCmd)
	thumbnailsCmd.Flags().Int("width", 0, "display width to size thumbnails for (0 uses thumbnails.target_width)")
	thumbnailsCmd.Flags().Bool("recalculate", false, "wipe the cache and regenerate every thumbnail")
}
