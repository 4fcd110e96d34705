package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "drey.yml"

// Defaults applied by Validate to missing values.
const (
	DefaultNamespace       = "default"
	DefaultRedisURL        = "redis://localhost:6379/0"
	DefaultStagingTTL      = time.Hour
	DefaultStreamName      = "objective_events"
	DefaultStreamGroup     = "drey-workers"
	DefaultStreamConsumer  = "worker-1"
	DefaultStreamMaxLen    = 10000
	DefaultStreamBatchSize = 10
	DefaultStreamBlock     = 2 * time.Second
	DefaultIdempotencySize = 10000
	DefaultIdempotencyTTL  = 24 * time.Hour
	DefaultDatabasePath    = ".drey/drey.db"
	DefaultEmbeddingDim    = 384
	DefaultServerAddr      = ":8080"
	DefaultServiceName     = "drey"
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config represents the top-level drey.yml configuration
type Config struct {
	Version   string          `yaml:"version"`
	Namespace string          `yaml:"namespace"`
	Redis     RedisConfig     `yaml:"redis"`
	Staging   StagingConfig   `yaml:"staging"`
	Stream    StreamConfig    `yaml:"stream"`
	Worker    WorkerConfig    `yaml:"worker"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RedisConfig locates the Redis instance backing staging and the event stream
type RedisConfig struct {
	URL string `yaml:"url"` // redis://[:password@]host:port/db
}

// StagingConfig controls the lifetime of drafts awaiting a decision
type StagingConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// StreamConfig controls the event stream and the consumer group reading it
type StreamConfig struct {
	Name      string        `yaml:"name"`
	Group     string        `yaml:"group"`
	Consumer  string        `yaml:"consumer"`
	MaxLen    int64         `yaml:"max_len"`
	BatchSize int64         `yaml:"batch_size"`
	Block     time.Duration `yaml:"block"`
}

// WorkerConfig controls event deduplication and acknowledgement
type WorkerConfig struct {
	IdempotencySize int           `yaml:"idempotency_size"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"`
	AckOnFailure    *bool         `yaml:"ack_on_failure,omitempty"` // default true
}

// DatabaseConfig locates the SQLite file holding committed objectives
type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for a throwaway database
}

// EmbeddingConfig sizes the vectors of the semantic index
type EmbeddingConfig struct {
	Dimension int `yaml:"dimension"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // otlp-http, stdout or none
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a valid configuration that needs no file.
func Default() *Config {
	c := &Config{Version: "1.0"}
	if err := c.Validate(); err != nil {
		// the zero config with a version always validates
		panic(err)
	}
	return c
}

// Validate applies defaults to missing values and rejects invalid ones
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if !namespacePattern.MatchString(c.Namespace) {
		return fmt.Errorf("invalid namespace '%s': use lowercase letters, digits, '-' and '_'", c.Namespace)
	}

	if c.Redis.URL == "" {
		c.Redis.URL = DefaultRedisURL
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}

	if c.Staging.DefaultTTL == 0 {
		c.Staging.DefaultTTL = DefaultStagingTTL
	}
	if c.Staging.DefaultTTL < 0 {
		return fmt.Errorf("staging.default_ttl must be positive, got %s", c.Staging.DefaultTTL)
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}

	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = DefaultEmbeddingDim
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be >= 1, got %d", c.Embedding.Dimension)
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp-http"
	}
	switch c.Telemetry.Exporter {
	case "otlp-http", "stdout", "none":
	default:
		return fmt.Errorf("invalid telemetry.exporter: %s (must be 'otlp-http', 'stdout' or 'none')", c.Telemetry.Exporter)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.Name == "" {
		s.Name = DefaultStreamName
	}
	if s.Group == "" {
		s.Group = DefaultStreamGroup
	}
	if s.Consumer == "" {
		s.Consumer = DefaultStreamConsumer
	}
	if s.MaxLen == 0 {
		s.MaxLen = DefaultStreamMaxLen
	}
	if s.MaxLen < 1 {
		return fmt.Errorf("stream.max_len must be >= 1, got %d", s.MaxLen)
	}
	if s.BatchSize == 0 {
		s.BatchSize = DefaultStreamBatchSize
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("stream.batch_size must be >= 1, got %d", s.BatchSize)
	}
	if s.Block == 0 {
		s.Block = DefaultStreamBlock
	}
	if s.Block < 0 {
		return fmt.Errorf("stream.block must be positive, got %s", s.Block)
	}
	return nil
}

func (w *WorkerConfig) validate() error {
	if w.IdempotencySize == 0 {
		w.IdempotencySize = DefaultIdempotencySize
	}
	if w.IdempotencySize < 1 {
		return fmt.Errorf("worker.idempotency_size must be >= 1, got %d", w.IdempotencySize)
	}
	if w.IdempotencyTTL == 0 {
		w.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if w.IdempotencyTTL < 0 {
		return fmt.Errorf("worker.idempotency_ttl must be positive, got %s", w.IdempotencyTTL)
	}
	if w.AckOnFailure == nil {
		ack := true
		w.AckOnFailure = &ack
	}
	return nil
}

// RedisOptions parses the Redis URL into client options.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.url: %w", err)
	}
	return opts, nil
}

// Load reads and validates drey.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}
