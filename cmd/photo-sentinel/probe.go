package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/raaihank/photo-sentinel/internal/media"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe [image...]",
	Short: "Check the OCR engine and entity model, optionally analyzing images",
	Long: `probe reports whether the configured OCR engine and entity model can run on
this machine. Any image paths given are analyzed and their findings printed
without touching the scan queue.`,
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

		fmt.Printf("OCR engine:   %s\n", a.ocr.Name())
		if err := a.recognizer.Probe(); err != nil {
			fmt.Printf("Entity model: unavailable (%v), heuristic detection only\n", err)
		} else if err := a.recognizer.Load(ctx); err != nil {
			fmt.Printf("Entity model: failed to load (%v), heuristic detection only\n", err)
		} else {
			fmt.Printf("Entity model: ready (loaded in %s)\n", a.recognizer.GetStats().ModelLoadTime)
		}

		threshold := cfg.Scanner.ConfidenceThreshold
		for _, path := range args {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", path, err)
			}
			analysis, err := a.analyzer.Analyze(ctx, media.FileURI(abs), threshold)
			if err != nil {
				return err
			}

			fmt.Printf("\n%s (engine: %s)\n", path, engineName(string(analysis.Engine)))
			if !analysis.HasPii {
				fmt.Println("  no personal data found")
				continue
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  LABEL\tSCORE\tSNIPPET")
			for _, finding := range analysis.Findings {
				fmt.Fprintf(w, "  %s\t%.2f\t%s\n", finding.Label, finding.Score, finding.Snippet)
			}
			w.Flush()
		}
		return nil
	},
}

func engineName(engine string) string {
	if engine == "" {
		return "none"
	}
	return engine
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
