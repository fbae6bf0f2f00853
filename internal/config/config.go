package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Load loads configuration from file, .env and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	// A .env next to the binary is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/photo-sentinel/")
	if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home + "/.photo-sentinel/")
	}

	viper.SetEnvPrefix("PHOTOSENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		expanded, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		viper.SetConfigFile(expanded)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.expandPaths(); err != nil {
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// expandPaths resolves ~ in every filesystem path
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Storage.Path,
		&c.Media.Manifest,
		&c.Model.AssetDir,
		&c.Model.LocalDir,
		&c.Thumbnails.Dir,
		&c.Logging.File.Path,
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	for i, root := range c.Media.Roots {
		expanded, err := homedir.Expand(root)
		if err != nil {
			return fmt.Errorf("failed to expand media root %q: %w", root, err)
		}
		c.Media.Roots[i] = expanded
	}
	return nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Storage.Driver {
	case "sqlite":
		if config.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if config.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	}

	if len(config.Media.Roots) == 0 && config.Media.Manifest == "" {
		return fmt.Errorf("either media.roots or media.manifest must be set")
	}

	if config.Schedule.Enabled && config.Schedule.Interval <= 0 {
		return fmt.Errorf("invalid schedule interval: %s", config.Schedule.Interval)
	}

	if config.Scanner.ProcessingLease <= 0 {
		return fmt.Errorf("invalid processing lease: %s", config.Scanner.ProcessingLease)
	}

	if config.Thumbnails.Index == "redis" && config.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when thumbnails.index is redis")
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid edits are
// reported through onError and the previous configuration stays in effect.
func Watch(callback func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal config: %w", err))
			return
		}

		if err := newConfig.expandPaths(); err != nil {
			onError(err)
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration: %w", err))
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}
