package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/photo-sentinel/internal/config"
	"github.com/raaihank/photo-sentinel/internal/etl"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		output     = flag.String("output", "", "Report file (.csv, .json, .parquet or .xlsx)")
		statuses   = flag.String("status", "pii_found", "Comma separated statuses to export, or \"all\"")
	)
	flag.Parse()

	if *output == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output flagged.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output report.xlsx --status pii_found,failed\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output everything.parquet --status all\n", os.Args[0])
		os.Exit(1)
	}

	filter, err := parseStatuses(*statuses)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, &store.Config{
		Driver:          cfg.Storage.Driver,
		Path:            cfg.Storage.Path,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("Failed to open scan store", zap.Error(err))
	}
	defer st.Close()

	result, err := etl.NewExporter(st, log).Export(ctx, *output, filter)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	fmt.Printf("Exported %d records to %s (%s) in %s\n",
		result.Records, result.Path, result.Format, result.Duration)
}

// parseStatuses turns the --status flag into a store filter. "all" means no
// filter.
func parseStatuses(raw string) ([]store.Status, error) {
	if strings.TrimSpace(raw) == "all" {
		return nil, nil
	}

	valid := map[store.Status]bool{
		store.StatusPending:      true,
		store.StatusProcessing:   true,
		store.StatusPiiFound:     true,
		store.StatusScannedClean: true,
		store.StatusFailed:       true,
	}

	var statuses []store.Status
	for _, part := range strings.Split(raw, ",") {
		status := store.Status(strings.TrimSpace(part))
		if status == "" {
			continue
		}
		if !valid[status] {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		statuses = append(statuses, status)
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("no statuses given")
	}
	return statuses, nil
}
