package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production" - controls webhook URL policy
	Server      ServerConfig  `toml:"server"`
	Queue       QueueConfig   `toml:"queue"`
	Storage     StorageConfig `toml:"storage"`
	Portal      PortalConfig  `toml:"portal"`
	Worker      WorkerConfig  `toml:"worker"`
	Webhook     WebhookConfig `toml:"webhook"`
	Sweeper     SweeperConfig `toml:"sweeper"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for tickets
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent job workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "10m" - ticket visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a ticket can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	S3     S3Config     `toml:"s3"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// S3Config represents object storage configuration (S3 or any S3-compatible endpoint)
type S3Config struct {
	Endpoint     string `toml:"endpoint"`       // Custom endpoint for S3-compatible services (MinIO, Tigris); empty = AWS
	Region       string `toml:"region"`         // Bucket region
	Bucket       string `toml:"bucket"`         // Bucket name
	AccessKey    string `toml:"access_key"`     // Static access key (empty = default credential chain)
	SecretKey    string `toml:"secret_key"`     // Static secret key
	UsePathStyle bool   `toml:"use_path_style"` // Required for most S3-compatible services
	PresignTTL   string `toml:"presign_ttl"`    // Pre-signed URL lifetime, e.g. "1h"
}

// PortalConfig contains the upstream court portal client configuration
type PortalConfig struct {
	BaseURL        string `toml:"base_url"`        // Portal API base URL
	Token          string `toml:"token"`           // Bearer token for portal requests
	RequestTimeout string `toml:"request_timeout"` // Per-fetch timeout, e.g. "60s"
	RateLimit      int    `toml:"rate_limit"`      // Max portal requests per second
	UserAgent      string `toml:"user_agent"`      // User agent sent to the portal
}

// WorkerConfig contains the per-job document processing configuration
type WorkerConfig struct {
	BatchSize    int    `toml:"batch_size"`    // Documents processed concurrently within one job
	MaxRetries   int    `toml:"max_retries"`   // Attempts per document before it is marked failed
	RetryBackoff string `toml:"retry_backoff"` // Base backoff between document retries, e.g. "2s"
}

// WebhookConfig contains the callback dispatcher configuration
type WebhookConfig struct {
	MaxRetries     int    `toml:"max_retries"`     // Delivery attempts per notification
	RetryBackoff   string `toml:"retry_backoff"`   // Base backoff between attempts, e.g. "2s"
	RequestTimeout string `toml:"request_timeout"` // Per-attempt timeout, e.g. "30s"
}

// SweeperConfig controls reclamation of jobs orphaned in PROCESSING
type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`  // Cron schedule format (with seconds)
	StaleAge string `toml:"stale_age"` // Age after which a PROCESSING job with no live worker is reclaimed
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig creates a configuration with default values.
// Retry counts, batch size and backoff bases live here, not in code paths.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "10m",
			MaxReceive:        3,
			QueueName:         "acta_jobs",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			S3: S3Config{
				Region:       "us-east-1",
				Bucket:       "acta-documents",
				UsePathStyle: true,
				PresignTTL:   "1h",
			},
		},
		Portal: PortalConfig{
			RequestTimeout: "60s",
			RateLimit:      5,
			UserAgent:      "Acta/1.0",
		},
		Worker: WorkerConfig{
			BatchSize:    5,
			MaxRetries:   3,
			RetryBackoff: "2s",
		},
		Webhook: WebhookConfig{
			MaxRetries:     3,
			RetryBackoff:   "2s",
			RequestTimeout: "30s",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "0 */5 * * * *", // Every 5 minutes
			StaleAge: "30m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; CLI flags are applied separately and win.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ACTA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("ACTA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ACTA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if concurrency := os.Getenv("ACTA_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("ACTA_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}

	if badgerPath := os.Getenv("ACTA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if endpoint := os.Getenv("ACTA_S3_ENDPOINT"); endpoint != "" {
		config.Storage.S3.Endpoint = endpoint
	}
	if bucket := os.Getenv("ACTA_S3_BUCKET"); bucket != "" {
		config.Storage.S3.Bucket = bucket
	}
	if accessKey := os.Getenv("ACTA_S3_ACCESS_KEY"); accessKey != "" {
		config.Storage.S3.AccessKey = accessKey
	}
	if secretKey := os.Getenv("ACTA_S3_SECRET_KEY"); secretKey != "" {
		config.Storage.S3.SecretKey = secretKey
	}

	if baseURL := os.Getenv("ACTA_PORTAL_BASE_URL"); baseURL != "" {
		config.Portal.BaseURL = baseURL
	}
	if token := os.Getenv("ACTA_PORTAL_TOKEN"); token != "" {
		config.Portal.Token = token
	}

	if level := os.Getenv("ACTA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ACTA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration parses a duration string from config, falling back to a default
// when the value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
