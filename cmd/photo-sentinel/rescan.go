package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Reset every photo to pending so the next scan starts over",
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

		reset, err := a.store.ResetAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d photos to pending\n", reset)

		if run, _ := cmd.Flags().GetBool("run"); run {
			result, err := a.runner.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rescanned: %d with personal data, %d clean, %d failed\n",
				result.PiiFound, result.Clean, result.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescanCmd)
	rescanCmd.Flags().Bool("run", false, "scan the queue right after resetting it")
}
