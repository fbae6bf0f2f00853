package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Add new photos from the media library to the scan queue",
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

		result, err := a.enumerator.Enumerate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Read %d pages, %d photos, %d new\n", result.Pages, result.Seen, result.Inserted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
}
