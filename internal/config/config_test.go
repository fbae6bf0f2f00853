package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaults()
	if err := cfg.expandPaths(); err != nil {
		t.Fatalf("Failed to expand default paths: %v", err)
	}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Default configuration should be valid: %v", err)
	}

	if cfg.Scanner.ConfidenceThreshold != 0.6 {
		t.Errorf("Expected default threshold 0.6, got %v", cfg.Scanner.ConfidenceThreshold)
	}
	if cfg.Thumbnails.BatchSize != 25 {
		t.Errorf("Expected thumbnail batch size 25, got %d", cfg.Thumbnails.BatchSize)
	}
	if cfg.Schedule.Interval != 15*time.Minute {
		t.Errorf("Expected 15m schedule interval, got %s", cfg.Schedule.Interval)
	}
	if strings.HasPrefix(cfg.Storage.Path, "~") {
		t.Errorf("Expected storage path to be expanded, got %s", cfg.Storage.Path)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: "Driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" },
			wantErr: "storage.dsn",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Scanner.ConfidenceThreshold = 1.5 },
			wantErr: "ConfidenceThreshold",
		},
		{
			name:    "no media source",
			mutate:  func(c *Config) { c.Media.Roots = nil; c.Media.Manifest = "" },
			wantErr: "media.roots",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "log level",
		},
		{
			name:    "unknown ocr engine",
			mutate:  func(c *Config) { c.OCR.Engine = "paddle" },
			wantErr: "Engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
