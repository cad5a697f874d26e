package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "notify", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "alerts@localhost", cfg.SMTP.FromEmail)

	assert.Equal(t, 300, cfg.Scheduler.RunTimeout)
	assert.Equal(t, 30, cfg.Scheduler.QueryTimeout)
	assert.Equal(t, 1000, cfg.Scheduler.MaxRows)

	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 15, cfg.Dispatcher.SendTimeout)
	assert.Equal(t, 600, cfg.Dispatcher.StaleClaimed)

	assert.Equal(t, "notify:events", cfg.Events.Stream)
	assert.Equal(t, "notify-engine", cfg.Events.ConsumerGroup)

	assert.Equal(t, "", cfg.Webhook.URL)
	assert.Equal(t, "", cfg.JobToken)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("SMTP_HOST", "mail.example.com")
	os.Setenv("DISPATCHER_BATCH_SIZE", "25")
	os.Setenv("JOB_TOKEN", "secret")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.Equal(t, "secret", cfg.JobToken)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PORT", "not-a-number")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "notify",
		Password: "pw",
		Database: "notify",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=notify password=pw dbname=notify sslmode=disable",
		cfg.GetDSN())
}
