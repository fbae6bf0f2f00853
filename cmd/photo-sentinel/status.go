package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/raaihank/photo-sentinel/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scan progress and the number of photos in each state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer log.Sync()

		// Thumbnails and the model are not needed to read the queue
		cfg.Thumbnails.Enabled = false
		cfg.Model.Enabled = false
		cfg.OCR.Engine = "none"

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, cfg, log, false)
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		progress, err := a.store.Progress(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tPHOTOS")
		for _, status := range []store.Status{
			store.StatusPending,
			store.StatusProcessing,
			store.StatusPiiFound,
			store.StatusScannedClean,
			store.StatusFailed,
		} {
			fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
		}
		fmt.Fprintln(w, "\t")
		fmt.Fprintf(w, "progress\t%d/%d (%.1f%%)\n", progress.Processed, progress.Total, progress.Fraction()*100)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
