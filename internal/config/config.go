package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SMTPConfig holds outbound email transport settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// EventsConfig holds the Redis Stream consumer settings.
type EventsConfig struct {
	Stream        string // Redis Stream carrying domain events
	ConsumerGroup string
	Consumer      string
	BlockSeconds  int // XREADGROUP block duration
	BatchCount    int // messages read per poll
}

// Config is the notification engine configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig

	Scheduler struct {
		RunTimeout   int // whole-run timeout (seconds)
		QueryTimeout int // per detection query timeout (seconds)
		MaxRows      int // detection query row cap
	}

	Dispatcher struct {
		RunTimeout   int // whole-run timeout (seconds)
		BatchSize    int // pending notifications claimed per batch
		Workers      int // bounded send concurrency
		SendTimeout  int // per-notification send timeout (seconds)
		StaleClaimed int // age (seconds) after which SENDING rows are requeued
	}

	Events EventsConfig

	Webhook struct {
		URL     string // WEBHOOK channel endpoint; empty disables the channel
		Timeout int    // request timeout (seconds)
	}

	// JobToken guards one-shot job invocation. When set, the scheduler and
	// dispatcher binaries refuse to run unless invoked with a matching token.
	JobToken string

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "notify")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.SMTP.Host = getEnv("SMTP_HOST", "localhost")
	cfg.SMTP.Port = getEnvInt("SMTP_PORT", 587)
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", "")
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", "")
	cfg.SMTP.FromEmail = getEnv("SMTP_FROM_EMAIL", "alerts@localhost")
	cfg.SMTP.FromName = getEnv("SMTP_FROM_NAME", "Alerts")

	cfg.Scheduler.RunTimeout = getEnvInt("SCHEDULER_RUN_TIMEOUT", 300)
	cfg.Scheduler.QueryTimeout = getEnvInt("SCHEDULER_QUERY_TIMEOUT", 30)
	cfg.Scheduler.MaxRows = getEnvInt("SCHEDULER_MAX_ROWS", 1000)

	cfg.Dispatcher.RunTimeout = getEnvInt("DISPATCHER_RUN_TIMEOUT", 120)
	cfg.Dispatcher.BatchSize = getEnvInt("DISPATCHER_BATCH_SIZE", 100)
	cfg.Dispatcher.Workers = getEnvInt("DISPATCHER_WORKERS", 4)
	cfg.Dispatcher.SendTimeout = getEnvInt("DISPATCHER_SEND_TIMEOUT", 15)
	cfg.Dispatcher.StaleClaimed = getEnvInt("DISPATCHER_STALE_CLAIMED", 600)

	cfg.Events.Stream = getEnv("EVENTS_STREAM", "notify:events")
	cfg.Events.ConsumerGroup = getEnv("EVENTS_GROUP", "notify-engine")
	cfg.Events.Consumer = getEnv("EVENTS_CONSUMER", "events-1")
	cfg.Events.BlockSeconds = getEnvInt("EVENTS_BLOCK_SECONDS", 5)
	cfg.Events.BatchCount = getEnvInt("EVENTS_BATCH_COUNT", 50)

	cfg.Webhook.URL = getEnv("WEBHOOK_URL", "")
	cfg.Webhook.Timeout = getEnvInt("WEBHOOK_TIMEOUT", 10)

	cfg.JobToken = getEnv("JOB_TOKEN", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
