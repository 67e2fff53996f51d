package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runcard/pkg/ocr"
)

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewIsolatedLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runcard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
server:
  port: 9090
ocr:
  languages:
    full: [eng]
  recognize_timeout: 3s
  binarize_threshold: 170
watch:
  kind: monthly
  workers: 3
`), 0o644))

	cfg, err := NewIsolatedLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.MaxUploadMB, "unset keys keep defaults")
	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages.Full)
	assert.Equal(t, 3*time.Second, cfg.OCR.RecognizeTimeout)
	assert.Equal(t, "monthly", cfg.Watch.Kind)
	assert.Equal(t, 3, cfg.Watch.Workers)

	tn := cfg.OCR.Tuning()
	assert.Equal(t, uint8(170), tn.BinarizeThreshold)
	assert.Equal(t, 3*time.Second, tn.RecognizeTimeout)
	assert.Equal(t, ocr.DefaultTuning().UnsharpAmount, tn.UnsharpAmount)
}

func TestLoadWithFile_Missing(t *testing.T) {
	_, err := NewIsolatedLoader().LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RUNCARD_SERVER_PORT", "7070")
	t.Setenv("RUNCARD_DATABASE_DSN", "postgres://runcard@localhost/runcard")
	t.Setenv("RUNCARD_CACHE_TTL", "90s")

	cfg, err := NewIsolatedLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://runcard@localhost/runcard", cfg.Database.DSN)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
}

func TestLoad_InvalidFileFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runcard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, err := NewIsolatedLoader().LoadWithFile(path)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max_upload_mb"},
		{"auth secret", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.PasswordHash = "$2a$10$x"
		}, "jwt_secret"},
		{"auth hash", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.JWTSecret = "s3cret"
		}, "password_hash"},
		{"queue concurrency", func(c *Config) {
			c.Queue.RedisURL = "redis://localhost:6379/0"
			c.Queue.Concurrency = 0
		}, "queue.concurrency"},
		{"languages", func(c *Config) { c.OCR.Languages.Digits = nil }, "ocr.languages"},
		{"threshold", func(c *Config) { c.OCR.BinarizeThreshold = 300 }, "binarize_threshold"},
		{"kind", func(c *Config) { c.Watch.Kind = "weekly" }, "watch.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEngineConfigDedupesLanguages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCR.PoolSize = 3
	ec := cfg.OCR.Engine()
	assert.Equal(t, []string{"eng", "kor"}, ec.Languages)
	assert.Equal(t, 3, ec.PoolSize)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RUNCARD_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("RUNCARD_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("RUNCARD_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("RUNCARD_TEST_DOTENV"))
}
