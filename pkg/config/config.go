// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Knn, Indexer, Postgres, Kafka, Redis, Publish, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Knn      KnnConfig      `yaml:"knn"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Publish  PublishConfig  `yaml:"publish"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// KnnConfig controls neighbor retrieval, vote aggregation and the
// prediction worker pool.
type KnnConfig struct {
	K              int           `yaml:"k"`
	Weighted       bool          `yaml:"weighted"`
	PoolSize       int           `yaml:"poolSize"`
	PredictTimeout time.Duration `yaml:"predictTimeout"`
	BatchSize      int           `yaml:"batchSize"`
}

// IndexerConfig controls where a finalized index is persisted.
// An empty DataDir keeps the index in memory only.
type IndexerConfig struct {
	DataDir string `yaml:"dataDir"`
}

// PostgresConfig holds PostgreSQL connection parameters and the tables the
// loader reads from and the publisher writes to.
type PostgresConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Database         string        `yaml:"database"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	SSLMode          string        `yaml:"sslMode"`
	MaxOpenConns     int           `yaml:"maxOpenConns"`
	MaxIdleConns     int           `yaml:"maxIdleConns"`
	ConnMaxLifetime  time.Duration `yaml:"connMaxLifetime"`
	OutcomesTable    string        `yaml:"outcomesTable"`
	CovariatesTable  string        `yaml:"covariatesTable"`
	QueriesTable     string        `yaml:"queriesTable"`
	PredictionsTable string        `yaml:"predictionsTable"`
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
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Predictions string `yaml:"predictions"`
}

// RedisConfig holds Redis connection and prediction cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PublishConfig controls how predictions are written to the sinks.
type PublishConfig struct {
	Postgres       bool          `yaml:"postgres"`
	BatchSize      int           `yaml:"batchSize"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, and fails if the result does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
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

// Default returns a Config with local development defaults.
func Default() *Config {
	return &Config{
		Knn: KnnConfig{
			K:              100,
			Weighted:       true,
			PoolSize:       4,
			PredictTimeout: 10 * time.Minute,
			BatchSize:      100000,
		},
		Postgres: PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "bigknn",
			User:             "bigknn",
			Password:         "localdev",
			SSLMode:          "disable",
			MaxOpenConns:     10,
			MaxIdleConns:     2,
			ConnMaxLifetime:  5 * time.Minute,
			OutcomesTable:    "outcomes",
			CovariatesTable:  "covariates",
			QueriesTable:     "query_covariates",
			PredictionsTable: "predictions",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				Predictions: "knn-predictions",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: time.Hour,
		},
		Publish: PublishConfig{
			Postgres:       true,
			BatchSize:      1000,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate checks the settings the core cannot run without.
func (c *Config) Validate() error {
	if c.Knn.K < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "knn.k must be at least 1, got %d", c.Knn.K)
	}
	if c.Knn.PoolSize < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "knn.poolSize must be at least 1, got %d", c.Knn.PoolSize)
	}
	if c.Publish.BatchSize < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "publish.batchSize must be at least 1, got %d", c.Publish.BatchSize)
	}
	if c.Knn.BatchSize < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "knn.batchSize must be at least 1, got %d", c.Knn.BatchSize)
	}
	return nil
}

// applyEnvOverrides reads BK_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BK_KNN_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Knn.K = k
		}
	}
	if v := os.Getenv("BK_KNN_WEIGHTED"); v != "" {
		if weighted, err := strconv.ParseBool(v); err == nil {
			cfg.Knn.Weighted = weighted
		}
	}
	if v := os.Getenv("BK_KNN_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Knn.PoolSize = size
		}
	}
	if v := os.Getenv("BK_KNN_PREDICT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Knn.PredictTimeout = d
		}
	}
	if v := os.Getenv("BK_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("BK_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BK_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BK_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BK_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BK_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BK_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("BK_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("BK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BK_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("BK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BK_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
