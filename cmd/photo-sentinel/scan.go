package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan every pending photo once and exit",
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

		skipEnumerate, _ := cmd.Flags().GetBool("no-enumerate")
		if !skipEnumerate {
			enumerated, err := a.enumerator.Enumerate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Enumerated %d photos (%d new)\n", enumerated.Seen, enumerated.Inserted)
		}

		if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
			a.runner.SetThreshold(threshold)
			log.Info("Using confidence threshold from flag", zap.Float64("threshold", threshold))
		}

		result, err := a.runner.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned in %d batches: %d with personal data, %d clean, %d retried, %d failed (%s)\n",
			result.Batches, result.PiiFound, result.Clean, result.Retried, result.Failed, result.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("no-enumerate", false, "skip refreshing the queue from the media library")
	scanCmd.Flags().Float64("threshold", 0, "override the minimum confidence for a finding (0 keeps the configured value)")
}
