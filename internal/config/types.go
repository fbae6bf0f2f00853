package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig    `yaml:"server" mapstructure:"server"`
	Storage    StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Media      MediaConfig     `yaml:"media" mapstructure:"media"`
	Scanner    ScannerConfig   `yaml:"scanner" mapstructure:"scanner"`
	Schedule   ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Analyzer   AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Model      ModelConfig     `yaml:"model" mapstructure:"model"`
	OCR        OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Thumbnails ThumbnailConfig `yaml:"thumbnails" mapstructure:"thumbnails"`
	Redis      RedisConfig     `yaml:"redis" mapstructure:"redis"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Logging    LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket  WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// StorageConfig selects the scan store backend
type StorageConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path            string        `yaml:"path" mapstructure:"path"` // sqlite database file
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`   // postgres connection string
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// MediaConfig describes where photos are enumerated from
type MediaConfig struct {
	Roots      []string `yaml:"roots" mapstructure:"roots"`
	Manifest   string   `yaml:"manifest" mapstructure:"manifest"` // csv, json or parquet list of URIs
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`
	PageSize   int      `yaml:"page_size" mapstructure:"page_size" validate:"min=1,max=10000"`
}

// ScannerConfig contains batch runner configuration
type ScannerConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold" mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	BatchSize           int           `yaml:"batch_size" mapstructure:"batch_size" validate:"min=0"` // 0 drains everything in one batch
	ProcessingLease     time.Duration `yaml:"processing_lease" mapstructure:"processing_lease"`
	MaxAttempts         int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	EnumerateOnRun      bool          `yaml:"enumerate_on_run" mapstructure:"enumerate_on_run"`
}

// ScheduleConfig controls periodic background runs
type ScheduleConfig struct {
	Enabled               bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval              time.Duration `yaml:"interval" mapstructure:"interval"`
	RunOnStart            bool          `yaml:"run_on_start" mapstructure:"run_on_start"`
	RequireChargingOrWiFi bool          `yaml:"require_charging_or_wifi" mapstructure:"require_charging_or_wifi"`
	Charging              bool          `yaml:"charging" mapstructure:"charging"`
	OnWiFi                bool          `yaml:"on_wifi" mapstructure:"on_wifi"`
}

// AnalyzerConfig contains detection noise filters
type AnalyzerConfig struct {
	Detectors          []string `yaml:"detectors" mapstructure:"detectors"`
	BroadLabels        []string `yaml:"broad_labels" mapstructure:"broad_labels"`
	ShortAllowlist     []string `yaml:"short_allowlist" mapstructure:"short_allowlist"`
	CommonWords        []string `yaml:"common_words" mapstructure:"common_words"`
	CommonWordMinScore float64  `yaml:"common_word_min_score" mapstructure:"common_word_min_score" validate:"gte=0,lte=1"`
	SnippetContext     int      `yaml:"snippet_context" mapstructure:"snippet_context" validate:"min=0"`
}

// ModelConfig contains NER model asset configuration
type ModelConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	AssetDir      string        `yaml:"asset_dir" mapstructure:"asset_dir"`
	LocalDir      string        `yaml:"local_dir" mapstructure:"local_dir"`
	ModelFile     string        `yaml:"model_file" mapstructure:"model_file"`
	VocabFile     string        `yaml:"vocab_file" mapstructure:"vocab_file"`
	TokenizerFile string        `yaml:"tokenizer_file" mapstructure:"tokenizer_file"`
	LabelsFile    string        `yaml:"labels_file" mapstructure:"labels_file"`
	MaxLength     int           `yaml:"max_length" mapstructure:"max_length" validate:"min=2,max=4096"`
	SharedLibrary string        `yaml:"shared_library" mapstructure:"shared_library"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// OCRConfig selects and tunes the OCR adapter
type OCRConfig struct {
	Engine        string        `yaml:"engine" mapstructure:"engine" validate:"oneof=tesseract-cli gosseract none"`
	Binary        string        `yaml:"binary" mapstructure:"binary"`
	Languages     []string      `yaml:"languages" mapstructure:"languages"`
	PageSegMode   int           `yaml:"page_seg_mode" mapstructure:"page_seg_mode" validate:"min=0,max=13"`
	MinConfidence float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ThumbnailConfig contains thumbnail cache configuration
type ThumbnailConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	TargetWidth int    `yaml:"target_width" mapstructure:"target_width" validate:"min=1"`
	BucketStep  int    `yaml:"bucket_step" mapstructure:"bucket_step" validate:"min=1"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	Quality     int    `yaml:"quality" mapstructure:"quality" validate:"min=1,max=100"`
	Index       string `yaml:"index" mapstructure:"index" validate:"oneof=sql redis"`
}

// RedisConfig contains Redis connection settings for the shared thumbnail index
type RedisConfig struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	Prefix       string        `yaml:"prefix" mapstructure:"prefix"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// RateLimitConfig contains API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"min=0"`
	Burst             int  `yaml:"burst" mapstructure:"burst" validate:"min=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string        `yaml:"level" mapstructure:"level"`
	Format string        `yaml:"format" mapstructure:"format"` // json or console
	File   LogFileConfig `yaml:"file" mapstructure:"file"`
}

// LogFileConfig contains rotating log file settings
type LogFileConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events          EventsConfig  `yaml:"events" mapstructure:"events"`
}

// EventsConfig toggles which event families are broadcast
type EventsConfig struct {
	BroadcastProgress    bool `yaml:"broadcast_progress" mapstructure:"broadcast_progress"`
	BroadcastResults     bool `yaml:"broadcast_results" mapstructure:"broadcast_results"`
	BroadcastThumbnails  bool `yaml:"broadcast_thumbnails" mapstructure:"broadcast_thumbnails"`
	BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Driver:          "sqlite",
			Path:            "~/.photo-sentinel/pii-scanner.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Media: MediaConfig{
			Roots:      []string{"~/Pictures"},
			Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"},
			PageSize:   100,
		},
		Scanner: ScannerConfig{
			ConfidenceThreshold: 0.6,
			BatchSize:           25,
			ProcessingLease:     10 * time.Minute,
			MaxAttempts:         3,
			EnumerateOnRun:      true,
		},
		Schedule: ScheduleConfig{
			Enabled:               true,
			Interval:              15 * time.Minute,
			RunOnStart:            true,
			RequireChargingOrWiFi: false,
			Charging:              true,
			OnWiFi:                true,
		},
		Analyzer: AnalyzerConfig{
			Detectors: []string{"all"},
			BroadLabels: []string{
				"CITY", "COUNTY", "STATE", "COUNTRY", "JOBTITLE", "JOB_TITLE", "JOBAREA",
				"JOBTYPE", "CURRENCY", "CURRENCYCODE", "CURRENCYNAME", "CURRENCYSYMBOL",
				"GENDER", "SEX", "ORDINALDIRECTION", "EYECOLOR", "HEIGHT", "AGE",
			},
			ShortAllowlist: []string{
				"SSN", "DOB", "PIN", "CVV", "ZIP", "NRIC", "FIN",
				"US", "UK", "SG", "MY", "AU", "CA", "NY", "TX", "FL", "WA", "NJ", "IL",
			},
			CommonWords: []string{
				"the", "and", "for", "with", "from", "name", "email", "phone", "mobile",
				"address", "date", "number", "card", "total", "account", "street", "road",
				"your", "you", "this", "that", "here", "tel", "fax", "contact", "amount",
			},
			CommonWordMinScore: 0.8,
			SnippetContext:     16,
		},
		Model: ModelConfig{
			Enabled:       true,
			AssetDir:      "assets/model",
			LocalDir:      "~/.photo-sentinel/model",
			ModelFile:     "model.onnx",
			VocabFile:     "vocab.txt",
			TokenizerFile: "tokenizer.json",
			LabelsFile:    "config.json",
			MaxLength:     512,
			Timeout:       20 * time.Second,
		},
		OCR: OCRConfig{
			Engine:        "tesseract-cli",
			Binary:        "tesseract",
			Languages:     []string{"eng"},
			PageSegMode:   3,
			MinConfidence: 0,
			Timeout:       60 * time.Second,
		},
		Thumbnails: ThumbnailConfig{
			Enabled:     true,
			Dir:         "~/.photo-sentinel/thumbnails",
			TargetWidth: 256,
			BucketStep:  32,
			BatchSize:   25,
			Quality:     80,
			Index:       "sql",
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			Prefix:       "photo-sentinel",
			TTL:          0,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			Burst:             50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: LogFileConfig{
				Enabled:    false,
				Path:       "logs/photo-sentinel.log",
				MaxSize:    100, // MB
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
			Events: EventsConfig{
				BroadcastProgress:    true,
				BroadcastResults:     true,
				BroadcastThumbnails:  true,
				BroadcastConnections: true,
			},
		},
	}
}
