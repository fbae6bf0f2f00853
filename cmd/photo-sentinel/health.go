package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/raaihank/photo-sentinel/internal/config"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that a running server answers its health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		client := &http.Client{
			Timeout: 5 * time.Second,
		}

		resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/health", cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
		}

		fmt.Println("Health check passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
