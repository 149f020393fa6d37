package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration.
// Values are loaded from environment variables with defaults.
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Server
	ServerPort  string
	StoreDriver string
	LogLevel    string
	LogFormat   string
	JWTSecret   string

	// Scheduler
	SchedulerInterval         time.Duration
	SchedulerBatchSize        int
	SchedulerExecutionTimeout time.Duration

	// Ledger policy
	QrTTL                time.Duration
	LockTimeout          time.Duration
	LockRetryAttempts    int
	LockRetryBackoff     time.Duration
	DailyLimit           decimal.Decimal
	PerTransactionLimit  decimal.Decimal
	LargeAmountThreshold decimal.Decimal
	BusinessTimezone     string
	MaxAuthFailures      int

	// Webhook notifications
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

// Load reads a .env file when present, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "moneygo"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort:  getEnv("SERVER_PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		JWTSecret:   getEnv("JWT_SECRET", "moneygo-dev-secret-change-me"),

		SchedulerInterval:         getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerBatchSize:        getEnvInt("SCHEDULER_BATCH_SIZE", 100),
		SchedulerExecutionTimeout: getEnvDuration("SCHEDULER_EXECUTION_TIMEOUT", 30*time.Second),

		QrTTL:                getEnvDuration("QR_TTL", domain.DefaultQrTTL),
		LockTimeout:          getEnvDuration("LOCK_TIMEOUT", 5*time.Second),
		LockRetryAttempts:    getEnvInt("LOCK_RETRY_ATTEMPTS", 3),
		LockRetryBackoff:     getEnvDuration("LOCK_RETRY_BACKOFF", 50*time.Millisecond),
		DailyLimit:           getEnvDecimal("DAILY_LIMIT", domain.DefaultDailyLimit),
		PerTransactionLimit:  getEnvDecimal("PER_TRANSACTION_LIMIT", domain.DefaultPerTransactionLimit),
		LargeAmountThreshold: getEnvDecimal("LARGE_AMOUNT_THRESHOLD", decimal.NewFromInt(1_000_000)),
		BusinessTimezone:     getEnv("BUSINESS_TIMEZONE", "Asia/Seoul"),
		MaxAuthFailures:      getEnvInt("MAX_AUTH_FAILURES", 5),

		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
	}
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Location resolves BusinessTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		slog.Warn("Unknown business timezone, using UTC", "timezone", c.BusinessTimezone, "error", err)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
