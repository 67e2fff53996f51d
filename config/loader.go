// Package config loads runcard settings from a config file, RUNCARD_*
// environment variables and bound command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "runcard"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RUNCARD"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader over the global viper instance, so flags bound
// with viper.BindPFlag take part.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewIsolatedLoader returns a loader with its own viper instance.
func NewIsolatedLoader() *Loader {
	return &Loader{v: viper.New()}
}

// LoadDotEnv loads KEY=value pairs from the given files (default ./.env)
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load searches the standard locations for runcard.yaml, applies
// environment overrides and validates the result. A missing file is fine.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.prepare()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.finish()
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	l.v.SetConfigFile(configFile)
	l.prepare()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.finish()
}

// ConfigFileUsed returns the path of the config file used, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Viper returns the underlying viper instance.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

func (l *Loader) prepare() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.setDefaults()
}

func (l *Loader) finish() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) addConfigPaths() {
	for _, p := range SearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// SearchPaths lists where runcard.yaml is looked up, in order.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(dir, "runcard"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "runcard"))
	}
	return append(paths, "/etc/runcard")
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)

	l.v.SetDefault("auth.enabled", d.Auth.Enabled)
	l.v.SetDefault("auth.username", d.Auth.Username)
	l.v.SetDefault("auth.password_hash", d.Auth.PasswordHash)
	l.v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	l.v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	l.v.SetDefault("database.dsn", d.Database.DSN)
	l.v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	l.v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	l.v.SetDefault("cache.ttl", d.Cache.TTL)

	l.v.SetDefault("queue.redis_url", d.Queue.RedisURL)
	l.v.SetDefault("queue.name", d.Queue.Name)
	l.v.SetDefault("queue.concurrency", d.Queue.Concurrency)

	l.v.SetDefault("ocr.languages.digits", d.OCR.Languages.Digits)
	l.v.SetDefault("ocr.languages.full", d.OCR.Languages.Full)
	l.v.SetDefault("ocr.tessdata_prefix", d.OCR.TessdataPrefix)
	l.v.SetDefault("ocr.pool_size", d.OCR.PoolSize)
	l.v.SetDefault("ocr.recognize_timeout", d.OCR.RecognizeTimeout)
	l.v.SetDefault("ocr.binarize_threshold", d.OCR.BinarizeThreshold)
	l.v.SetDefault("ocr.unsharp_amount", d.OCR.UnsharpAmount)

	l.v.SetDefault("watch.dir", d.Watch.Dir)
	l.v.SetDefault("watch.processed_dir", d.Watch.ProcessedDir)
	l.v.SetDefault("watch.kind", d.Watch.Kind)
	l.v.SetDefault("watch.workers", d.Watch.Workers)
	l.v.SetDefault("watch.debounce", d.Watch.Debounce)
	l.v.SetDefault("watch.max_processed_bytes", d.Watch.MaxProcessedBytes)
}
