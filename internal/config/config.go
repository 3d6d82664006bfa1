package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the engine exposes. The lock TTL, breaker
// window, and sweep cadences are product knobs, not structural constants.
type Config struct {
	DBSource string
	Port     string
	Env      string

	AMQPURL      string
	AMQPExchange string

	BankBaseURL string

	LockTTL           time.Duration
	LockRetryInterval time.Duration
	LockTimeout       time.Duration

	GatewayTimeout    time.Duration
	GatewayMaxRetries int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	BackoffCap        time.Duration

	SweepInterval    time.Duration
	SweepGracePeriod time.Duration
	MaxReconcileAge  time.Duration
	SweepBatchSize   int

	SchedulePollInterval time.Duration
	ScheduleBatchSize    int
	ScheduleRetrySpacing time.Duration
	MaxFailureStreak     int
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	return &Config{
		DBSource: dbSource,
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "payflow.events"),

		BankBaseURL: getEnv("BANK_BASE_URL", "http://localhost:9090"),

		LockTTL:           getDuration("LOCK_TTL", 5*time.Minute),
		LockRetryInterval: getDuration("LOCK_RETRY_INTERVAL", 50*time.Millisecond),
		LockTimeout:       getDuration("LOCK_TIMEOUT", 3*time.Second),

		GatewayTimeout:    getDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayMaxRetries: getInt("GATEWAY_MAX_RETRIES", 3),
		BreakerThreshold:  getInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:   getDuration("BREAKER_COOLDOWN", 60*time.Second),
		BackoffCap:        getDuration("BACKOFF_CAP", 10*time.Second),

		SweepInterval:    getDuration("SWEEP_INTERVAL", time.Minute),
		SweepGracePeriod: getDuration("SWEEP_GRACE_PERIOD", 2*time.Minute),
		MaxReconcileAge:  getDuration("MAX_RECONCILE_AGE", 24*time.Hour),
		SweepBatchSize:   getInt("SWEEP_BATCH_SIZE", 100),

		SchedulePollInterval: getDuration("SCHEDULE_POLL_INTERVAL", 30*time.Second),
		ScheduleBatchSize:    getInt("SCHEDULE_BATCH_SIZE", 50),
		ScheduleRetrySpacing: getDuration("SCHEDULE_RETRY_SPACING", 10*time.Minute),
		MaxFailureStreak:     getInt("MAX_FAILURE_STREAK", 3),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v)
		return fallback
	}
	return n
}
