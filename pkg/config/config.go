// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Storage, Pipeline, Upstream, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	HealthTimeout   time.Duration `yaml:"healthTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps each event kind of the report chain to its Kafka topic.
// Every kind gets its own topic and consumer group.
type KafkaTopics struct {
	ReportRequested string `yaml:"reportRequested"`
	ReportReady     string `yaml:"reportReady"`
	DocumentSave    string `yaml:"documentSave"`
	ReportIsHere    string `yaml:"reportIsHere"`
	DeadLetter      string `yaml:"deadLetter"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// StorageConfig selects where saved report documents live. Driver is
// "file" (BaseDir on local disk) or "s3" (Bucket on an S3-compatible store).
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	BaseDir   string `yaml:"baseDir"`
	Extension string `yaml:"extension"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// PipelineConfig controls stage timeouts, retries and the idempotency window
// of the event executers.
type PipelineConfig struct {
	FetchTimeout    time.Duration `yaml:"fetchTimeout"`
	PublishTimeout  time.Duration `yaml:"publishTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DedupWindow     time.Duration `yaml:"dedupWindow"`
	ClaimLease      time.Duration `yaml:"claimLease"`
	StagingTTL      time.Duration `yaml:"stagingTTL"`
	OutboxInterval  time.Duration `yaml:"outboxInterval"`
	OutboxBatchSize int           `yaml:"outboxBatchSize"`

	// OutboxMaxRetries bounds relay attempts per record; a record that runs
	// out is replaced by a ReportFailedEvent for its chain.
	OutboxMaxRetries   int           `yaml:"outboxMaxRetries"`
	OutboxRetryBackoff time.Duration `yaml:"outboxRetryBackoff"`
	OutboxMaxBackoff   time.Duration `yaml:"outboxMaxBackoff"`

	// InlineContentLimit is the largest document carried inside a
	// DocumentSaveRequest; larger ones travel as a staging reference.
	InlineContentLimit int `yaml:"inlineContentLimit"`
}

// UpstreamConfig holds the URLs of collaborating services.
type UpstreamConfig struct {
	FileServiceURL string `yaml:"fileServiceUrl"`
	EvalURL        string `yaml:"evalUrl"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// GatewayConfig holds the ingress port and per-client request budget.
type GatewayConfig struct {
	Port            int           `yaml:"port"`
	RateLimit       int           `yaml:"rateLimit"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ReaderPort      int           `yaml:"readerPort"`
	AllowOrigins    []string      `yaml:"allowOrigins"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.baseDir is required for the file driver")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.maxAttempts must be positive")
	}
	if c.Pipeline.DedupWindow <= 0 {
		return fmt.Errorf("pipeline.dedupWindow must be positive")
	}
	if c.Server.HealthTimeout <= 0 {
		return fmt.Errorf("server.healthTimeout must be positive")
	}
	if c.Pipeline.InlineContentLimit < 0 || c.Pipeline.InlineContentLimit > MaxInlineContent {
		return fmt.Errorf("pipeline.inlineContentLimit must be between 0 and %d", MaxInlineContent)
	}
	return nil
}

// MaxInlineContent is the largest inline document whose base64 form still
// fits a 1 MiB Kafka message with its envelope.
const MaxInlineContent = 700 << 10

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			HealthTimeout:   3 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "reportpipeline",
			User:            "reportpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "reportpipeline",
			Topics: KafkaTopics{
				ReportRequested: "report.requested",
				ReportReady:     "report.ready",
				DocumentSave:    "document.save",
				ReportIsHere:    "report.is-here",
				DeadLetter:      "report.dead-letter",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Storage: StorageConfig{
			Driver:    "file",
			BaseDir:   "data/reports",
			Extension: ".csv",
			Region:    "us-east-1",
		},
		Pipeline: PipelineConfig{
			FetchTimeout:       10 * time.Second,
			PublishTimeout:     5 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxAttempts:        3,
			RetryDelay:         200 * time.Millisecond,
			DedupWindow:        24 * time.Hour,
			ClaimLease:         2 * time.Minute,
			StagingTTL:         time.Hour,
			OutboxInterval:     2 * time.Second,
			OutboxBatchSize:    100,
			OutboxMaxRetries:   12,
			OutboxRetryBackoff: time.Second,
			OutboxMaxBackoff:   5 * time.Minute,
			InlineContentLimit: 512 << 10,
		},
		Upstream: UpstreamConfig{
			FileServiceURL: "http://localhost:8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Gateway: GatewayConfig{
			Port:            8082,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
			RequestTimeout:  10 * time.Second,
			ReaderPort:      8083,
			AllowOrigins:    []string{"*"},
		},
	}
}

// applyEnvOverrides reads RP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("RP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RP_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("RP_STORAGE_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := os.Getenv("RP_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("RP_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("RP_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("RP_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("RP_UPSTREAM_FILE_SERVICE_URL"); v != "" {
		cfg.Upstream.FileServiceURL = v
	}
	if v := os.Getenv("RP_UPSTREAM_EVAL_URL"); v != "" {
		cfg.Upstream.EvalURL = v
	}
	if v := os.Getenv("RP_PIPELINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxAttempts = n
		}
	}
	if v := os.Getenv("RP_PIPELINE_OUTBOX_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.OutboxMaxRetries = n
		}
	}
	if v := os.Getenv("RP_PIPELINE_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.DedupWindow = d
		}
	}
	if v := os.Getenv("RP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("RP_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("RP_GATEWAY_ALLOW_ORIGINS"); v != "" {
		cfg.Gateway.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_GATEWAY_TRUSTED_PROXIES"); v != "" {
		cfg.Gateway.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_GATEWAY_READER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.ReaderPort = port
		}
	}
}
