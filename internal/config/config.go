package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBigQuery = "bigquery"
)

// Queue drivers.
const (
	QueueMemory = "memory"
	QueueKafka  = "kafka"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Logging LoggingConfig
	Store   StoreConfig
	Redis   RedisConfig
	Queue   QueueConfig
	Recalc  RecalcConfig
	GCS     GCSConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string
	Format string // console|json
}

// StoreConfig selects and configures the ledger backend.
type StoreConfig struct {
	Driver    string
	DBSource  string
	BQProject string
	BQDataset string
}

// RedisConfig enables the history cache and recalculation leases when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	TTL      time.Duration
}

// QueueConfig selects the job transport.
type QueueConfig struct {
	Driver       string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
	WorkerCount  int
	BufferSize   int
	// JobRetention caps how many job records the in-memory job store keeps.
	JobRetention int
}

// RecalcConfig tunes the running balance calculator and gate.
type RecalcConfig struct {
	BatchSize int
	Exclusive bool
	LeaseTTL  time.Duration
}

// GCSConfig names the bucket used for history exports.
type GCSConfig struct {
	Bucket string
}

const (
	defaultPort            = 8080
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "console"
	defaultBQDataset       = "networth"
	defaultCacheTTL        = 10 * time.Minute
	defaultKafkaTopic      = "networth.recalculate"
	defaultKafkaGroupID    = "networth-workers"
	defaultWorkerCount     = 5
	defaultQueueBuffer     = 100
	defaultJobRetention    = 1000
	defaultBatchSize       = 1000
	defaultLeaseTTL        = 5 * time.Minute
)

// Load reads configuration from the environment after loading an optional
// .env file from the working directory, applying defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format: valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(valueOrDefault("STORE_DRIVER", StoreMemory)),
			DBSource:  os.Getenv("DB_SOURCE"),
			BQProject: os.Getenv("BQ_PROJECT"),
			BQDataset: valueOrDefault("BQ_DATASET", defaultBQDataset),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Queue: QueueConfig{
			Driver:       strings.ToLower(valueOrDefault("QUEUE_DRIVER", QueueMemory)),
			KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:   valueOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
			KafkaGroupID: valueOrDefault("KAFKA_GROUP_ID", defaultKafkaGroupID),
		},
		GCS: GCSConfig{
			Bucket: os.Getenv("GCS_BUCKET"),
		},
	}

	var err error
	if cfg.HTTP.Port, err = parseIntWithDefault("SERVER_PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return Config{}, fmt.Errorf("invalid SERVER_PORT: %d out of range", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout, err = parseDurationWithDefault("SERVER_READ_TIMEOUT", defaultReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.WriteTimeout, err = parseDurationWithDefault("SERVER_WRITE_TIMEOUT", defaultWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.IdleTimeout, err = parseDurationWithDefault("SERVER_IDLE_TIMEOUT", defaultIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Redis.TTL, err = parseDurationWithDefault("HISTORY_CACHE_TTL", defaultCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.Queue.WorkerCount, err = parseIntWithDefault("WORKER_COUNT", defaultWorkerCount); err != nil {
		return Config{}, err
	}
	if cfg.Queue.BufferSize, err = parseIntWithDefault("QUEUE_BUFFER", defaultQueueBuffer); err != nil {
		return Config{}, err
	}
	if cfg.Queue.JobRetention, err = parseIntWithDefault("JOB_RETENTION", defaultJobRetention); err != nil {
		return Config{}, err
	}
	if cfg.Recalc.BatchSize, err = parseIntWithDefault("RECALC_BATCH_SIZE", defaultBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.Recalc.Exclusive, err = parseBoolWithDefault("RECALC_EXCLUSIVE", false); err != nil {
		return Config{}, err
	}
	if cfg.Recalc.LeaseTTL, err = parseDurationWithDefault("RECALC_LEASE_TTL", defaultLeaseTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DBSource == "" {
			return fmt.Errorf("DB_SOURCE is required for STORE_DRIVER=%s", StorePostgres)
		}
	case StoreBigQuery:
		if c.Store.BQProject == "" {
			return fmt.Errorf("BQ_PROJECT is required for STORE_DRIVER=%s", StoreBigQuery)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueKafka:
		if len(c.Queue.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for QUEUE_DRIVER=%s", QueueKafka)
		}
	default:
		return fmt.Errorf("invalid QUEUE_DRIVER %q", c.Queue.Driver)
	}

	if c.Recalc.BatchSize <= 0 {
		return fmt.Errorf("invalid RECALC_BATCH_SIZE: must be positive")
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseBoolWithDefault(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
