package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/gogen/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ReadsYAML(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: gogen
  environment: development
redis:
  address: redis.internal:6379
  db: 3
worker:
  concurrency: 4
  job_timeout: 90s
`)

	cfg, err := config.Load[config.Config](path)
	require.NoError(t, err)

	assert.Equal(t, "gogen", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Worker.JobTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
redis:
  address: from-file:6379
logging:
  level: info
`)

	t.Setenv("REDIS_ADDRESS", "from-env:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load[config.Config](path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Redis.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverridesDuration(t *testing.T) {
	path := writeConfigFile(t, `
queue:
  block_timeout: 5s
`)

	t.Setenv("QUEUE_BLOCK_TIMEOUT", "250ms")

	type probe struct {
		Queue struct {
			BlockTimeout time.Duration `yaml:"block_timeout" env:"QUEUE_BLOCK_TIMEOUT"`
		} `yaml:"queue"`
	}

	cfg, err := config.Load[probe](path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BlockTimeout)
}

func TestLoadWithDefaults_FillsMissingSections(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: gogen
`)

	cfg, err := config.LoadWithDefaults(path, func(c *config.Config) {
		c.SetDefaults()
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "gogen-workers", cfg.Queue.ConsumerGroup)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "gogen:events", cfg.Events.Stream)
	assert.Equal(t, "models.yml", cfg.ModelsFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load[config.Config]("does-not-exist.yml")
	assert.Error(t, err)
}

func TestLoadOptional_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "env-redis:6379")

	cfg, err := config.LoadOptional(filepath.Join(t.TempDir(), "absent.yml"), func(c *config.Config) {
		c.SetDefaults()
	})
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Redis.Address)
	assert.Equal(t, "gogen-workers", cfg.Queue.ConsumerGroup)
}

func TestLoadOptional_ReadsExistingFile(t *testing.T) {
	path := writeConfigFile(t, `
redis:
  address: file-redis:6379
`)

	cfg, err := config.LoadOptional(path, func(c *config.Config) {
		c.SetDefaults()
	})
	require.NoError(t, err)
	assert.Equal(t, "file-redis:6379", cfg.Redis.Address)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *config.Config) {}, false},
		{"empty redis address", func(c *config.Config) { c.Redis.Address = "" }, true},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "verbose" }, true},
		{"zero concurrency", func(c *config.Config) { c.Worker.Concurrency = -1 }, true},
		{"base delay above max", func(c *config.Config) {
			c.Retry.BaseDelay = 10 * time.Minute
			c.Retry.MaxDelay = time.Minute
		}, true},
		{"database missing user", func(c *config.Config) { c.Database.User = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config.Config
			cfg.SetDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
