package config

import (
	"strconv"
	"time"
)

// Config is the top-level gogen configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retry     RetryConfig     `yaml:"retry"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// ModelsFile points at the model/agent catalog consumed by the
	// configuration store.
	ModelsFile string `env:"MODELS_FILE" yaml:"models_file"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.App.SetDefaults()
	c.Logging.SetDefaults()
	c.Redis.SetDefaults()
	c.Database.SetDefaults()
	c.Anthropic.SetDefaults()
	c.Queue.SetDefaults()
	c.Worker.SetDefaults()
	c.Retry.SetDefaults()
	c.Cache.SetDefaults()
	c.Events.SetDefaults()
	c.Metrics.SetDefaults()
	if c.ModelsFile == "" {
		c.ModelsFile = "models.yml"
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `env:"APP_ENV"   yaml:"environment"`
	Debug       bool   `env:"APP_DEBUG" yaml:"debug"`
}

// SetDefaults applies default values for AppConfig.
func (c *AppConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "gogen"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`
}

// SetDefaults applies default values for LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	return ValidateLogLevel(c.Level)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// SetDefaults applies default values for RedisConfig.
func (c *RedisConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
}

// Validate checks the Redis configuration.
func (c *RedisConfig) Validate() error {
	return ValidateRequired("redis.address", c.Address)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// SetDefaults applies default values for DatabaseConfig.
func (c *DatabaseConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		c.User = "gogen"
	}
	if c.Database == "" {
		c.Database = "gogen"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	if err := ValidateRequired("database.host", c.Host); err != nil {
		return err
	}
	if err := ValidatePort("database.port", c.Port); err != nil {
		return err
	}
	if err := ValidateRequired("database.user", c.User); err != nil {
		return err
	}
	return ValidateRequired("database.database", c.Database)
}

// AnthropicConfig holds backend client configuration.
type AnthropicConfig struct {
	// APIKeyEnv names the environment variable holding the API key. The
	// key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// SetDefaults applies default values for AnthropicConfig.
func (c *AnthropicConfig) SetDefaults() {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
}

// QueueConfig holds intake stream configuration.
type QueueConfig struct {
	StreamPrefix  string        `yaml:"stream_prefix"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	ClaimMinIdle  time.Duration `yaml:"claim_min_idle"`
	MaxStreamLen  int64         `yaml:"max_stream_len"`
}

// SetDefaults applies default values for QueueConfig.
func (c *QueueConfig) SetDefaults() {
	if c.StreamPrefix == "" {
		c.StreamPrefix = "gogen"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "gogen-workers"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimMinIdle == 0 {
		c.ClaimMinIdle = 5 * time.Minute
	}
	if c.MaxStreamLen == 0 {
		c.MaxStreamLen = 10000
	}
}

// Validate checks the queue configuration.
func (c *QueueConfig) Validate() error {
	if c.BatchSize < 1 {
		return &ValidationError{Field: "queue.batch_size", Message: "must be at least 1"}
	}
	return nil
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Concurrency  int           `env:"WORKER_CONCURRENCY" yaml:"concurrency"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// SetDefaults applies default values for WorkerConfig.
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Validate checks the worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.Concurrency < 1 {
		return &ValidationError{Field: "worker.concurrency", Message: "must be at least 1"}
	}
	return nil
}

// RetryConfig governs job-level retry delays: delay = min(base * 2^n, max).
type RetryConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SetDefaults applies default values for RetryConfig.
func (c *RetryConfig) SetDefaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
}

// Validate checks the retry configuration.
func (c *RetryConfig) Validate() error {
	if c.BaseDelay > c.MaxDelay {
		return &ValidationError{Field: "retry.base_delay", Message: "must not exceed retry.max_delay"}
	}
	return nil
}

// CacheConfig holds job-status cache configuration.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SetDefaults applies default values for CacheConfig.
func (c *CacheConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
}

// EventsConfig holds event publishing configuration.
type EventsConfig struct {
	Stream string `yaml:"stream"`
	// Disabled swaps the Redis publisher for a no-op one. Deployments
	// without an event consumer set this to avoid an ever-growing stream.
	Disabled bool `yaml:"disabled"`
}

// SetDefaults applies default values for EventsConfig.
func (c *EventsConfig) SetDefaults() {
	if c.Stream == "" {
		c.Stream = "gogen:events"
	}
}

// MetricsConfig holds the operational HTTP endpoint configuration. The
// endpoint serves Prometheus metrics, health and breaker state.
type MetricsConfig struct {
	Address string `env:"METRICS_ADDRESS" yaml:"address"`
	// SampleInterval is how often queue depth gauges are refreshed.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// SetDefaults applies default values for MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = 15 * time.Second
	}
}
