package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SwitchConfig holds credentials for one billing switch instance.
// Inbound and outbound switches carry independent key pairs; they are
// never interchangeable.
type SwitchConfig struct {
	BaseURL string
	Key     string
	Secret  string
	Timeout time.Duration
}

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

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
	RedisDB       int

	SwitchInbound  SwitchConfig
	SwitchOutbound SwitchConfig

	// ReservationWindow is how long an unpaid order holds its resources.
	ReservationWindow time.Duration
	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration
	// MirrorFreshness is how long a completed mirror of today's usage
	// is trusted before a query triggers a re-fetch.
	MirrorFreshness time.Duration

	SIPGroupID string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "backoffice"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "backoffice"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		SwitchInbound: SwitchConfig{
			BaseURL: getenv("SWITCH_INBOUND_URL", ""),
			Key:     strings.TrimSpace(getenv("SWITCH_INBOUND_KEY", "")),
			Secret:  strings.TrimSpace(getenv("SWITCH_INBOUND_SECRET", "")),
			Timeout: getenvDuration("SWITCH_TIMEOUT", 30*time.Second),
		},
		SwitchOutbound: SwitchConfig{
			BaseURL: getenv("SWITCH_OUTBOUND_URL", ""),
			Key:     strings.TrimSpace(getenv("SWITCH_OUTBOUND_KEY", "")),
			Secret:  strings.TrimSpace(getenv("SWITCH_OUTBOUND_SECRET", "")),
			Timeout: getenvDuration("SWITCH_TIMEOUT", 30*time.Second),
		},

		ReservationWindow: getenvDuration("RESERVATION_WINDOW", 15*time.Minute),
		SweepInterval:     getenvDuration("SWEEP_INTERVAL", 15*time.Minute),
		MirrorFreshness:   getenvDuration("MIRROR_FRESHNESS", 5*time.Minute),

		SIPGroupID: getenv("SIP_GROUP_ID", "1"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
