package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Ledger gateway selection. The embedded gateway keeps balances and log
// entries in memory and is intended for standalone deployments and tests.
const (
	LedgerModeEmbedded = "embedded"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	LedgerMode      string
	LedgerTopic     string
	LedgerTimeout   time.Duration
	PlatformAccount string

	DefaultPlatformFeeBps int
	DefaultOperatorFeeBps int

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "wellflow"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "wellflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		LedgerMode:      normalizeLedgerMode(getenv("LEDGER_MODE", LedgerModeEmbedded)),
		LedgerTopic:     getenv("LEDGER_TOPIC", "wellflow.settlements"),
		LedgerTimeout:   getenvDuration("LEDGER_TIMEOUT", 10*time.Second),
		PlatformAccount: getenv("PLATFORM_ACCOUNT", "platform.treasury"),

		DefaultPlatformFeeBps: getenvInt("DEFAULT_PLATFORM_FEE_BPS", 500),
		DefaultOperatorFeeBps: getenvInt("DEFAULT_OPERATOR_FEE_BPS", 0),

		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:    getenvDuration("RECONCILE_GRACE", 30*time.Second),
	}
}

func normalizeLedgerMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case LedgerModeEmbedded, "":
		return LedgerModeEmbedded
	default:
		return value
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
