package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"runcard/pkg/ocr"
	"runcard/pkg/ocr/tesseract"
)

// Config is the complete runcard configuration. Every command reads the
// same tree; unused sections are ignored.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth" json:"auth"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache" json:"cache"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue" json:"queue"`
	OCR      OCRConfig      `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch" json:"watch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string `mapstructure:"host" yaml:"host" json:"host"`
	Port        int    `mapstructure:"port" yaml:"port" json:"port"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig configures bearer-token auth. A single operator account is
// checked against PasswordHash (bcrypt).
type AuthConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Username     string        `mapstructure:"username" yaml:"username" json:"username"`
	PasswordHash string        `mapstructure:"password_hash" yaml:"password_hash" json:"-"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
}

// DatabaseConfig points at Postgres. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate"`
}

// CacheConfig points at Redis. An empty URL disables the result cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// QueueConfig configures the asynq job queue. An empty URL disables it.
type QueueConfig struct {
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
}

// LanguageConfig names the tesseract languages per pass family.
type LanguageConfig struct {
	Digits []string `mapstructure:"digits" yaml:"digits" json:"digits"`
	Full   []string `mapstructure:"full" yaml:"full" json:"full"`
}

// OCRConfig configures the engine and the tunable preprocessing constants.
type OCRConfig struct {
	Languages         LanguageConfig `mapstructure:"languages" yaml:"languages" json:"languages"`
	TessdataPrefix    string         `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	PoolSize          int            `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`
	RecognizeTimeout  time.Duration  `mapstructure:"recognize_timeout" yaml:"recognize_timeout" json:"recognize_timeout"`
	BinarizeThreshold int            `mapstructure:"binarize_threshold" yaml:"binarize_threshold" json:"binarize_threshold"`
	UnsharpAmount     float64        `mapstructure:"unsharp_amount" yaml:"unsharp_amount" json:"unsharp_amount"`
}

// Tuning overlays the configured constants on the pipeline defaults.
func (o OCRConfig) Tuning() ocr.Tuning {
	t := ocr.DefaultTuning()
	if o.RecognizeTimeout > 0 {
		t.RecognizeTimeout = o.RecognizeTimeout
	}
	if o.BinarizeThreshold > 0 {
		t.BinarizeThreshold = uint8(o.BinarizeThreshold)
	}
	if o.UnsharpAmount > 0 {
		t.UnsharpAmount = o.UnsharpAmount
	}
	return t
}

// Engine returns the tesseract pool configuration. Every configured
// language is probed at startup.
func (o OCRConfig) Engine() tesseract.Config {
	var langs []string
	for _, l := range append(slices.Clone(o.Languages.Digits), o.Languages.Full...) {
		if !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	return tesseract.Config{
		Languages:      langs,
		TessdataPrefix: o.TessdataPrefix,
		PoolSize:       o.PoolSize,
	}
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Dir               string        `mapstructure:"dir" yaml:"dir" json:"dir"`
	ProcessedDir      string        `mapstructure:"processed_dir" yaml:"processed_dir" json:"processed_dir"`
	Kind              string        `mapstructure:"kind" yaml:"kind" json:"kind"`
	Workers           int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	Debounce          time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	MaxProcessedBytes int64         `mapstructure:"max_processed_bytes" yaml:"max_processed_bytes" json:"max_processed_bytes"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8081,
			MaxUploadMB: 10,
		},
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{AutoMigrate: true},
		Cache:    CacheConfig{TTL: 24 * time.Hour},
		Queue: QueueConfig{
			Name:        "runcard",
			Concurrency: 4,
		},
		OCR: OCRConfig{
			Languages: LanguageConfig{
				Digits: []string{"eng"},
				Full:   []string{"eng", "kor"},
			},
			PoolSize:          2,
			RecognizeTimeout:  15 * time.Second,
			BinarizeThreshold: 190,
			UnsharpAmount:     0.9,
		},
		Watch: WatchConfig{
			Dir:               "public/runs",
			ProcessedDir:      "public/processed",
			Kind:              string(ocr.KindDaily),
			Debounce:          300 * time.Millisecond,
			MaxProcessedBytes: 1_000_000,
		},
	}
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password_hash is required when auth is enabled (see runcard hash-password)")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be positive")
		}
	}
	if c.Queue.RedisURL != "" && c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if len(c.OCR.Languages.Digits) == 0 || len(c.OCR.Languages.Full) == 0 {
		return fmt.Errorf("ocr.languages.digits and ocr.languages.full must not be empty")
	}
	if c.OCR.BinarizeThreshold < 0 || c.OCR.BinarizeThreshold > 255 {
		return fmt.Errorf("ocr.binarize_threshold out of range [0,255]: %d", c.OCR.BinarizeThreshold)
	}
	if c.OCR.UnsharpAmount < 0 {
		return fmt.Errorf("ocr.unsharp_amount must not be negative")
	}
	if c.OCR.PoolSize < 0 {
		return fmt.Errorf("ocr.pool_size must not be negative")
	}
	if _, err := ocr.ParseRecordKind(c.Watch.Kind); err != nil {
		return fmt.Errorf("watch.kind: %w", err)
	}
	if c.Watch.Workers < 0 {
		return fmt.Errorf("watch.workers must not be negative")
	}
	return nil
}
