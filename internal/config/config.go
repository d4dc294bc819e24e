// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ===============================
// CONFIGURATION STRUCTURES
// ===============================

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Auth      AuthConfig
	Badges    BadgeConfig
	LogLevel  string
	Env       string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
	AutoMigrate     bool
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL      string
	PoolSize int
	Enabled  bool
}

// IdentityConfig holds identity subsystem client configuration
type IdentityConfig struct {
	BaseURL        string
	Timeout        time.Duration
	CacheTTL       time.Duration
	MaxRetries     int
	BatchSupported bool
}

// RateLimitConfig holds throughput governor configuration
type RateLimitConfig struct {
	Enabled            bool
	BulkLargeThreshold int
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
}

// AuthConfig holds token verification configuration. Tokens are minted
// by the identity subsystem; this service only verifies them.
type AuthConfig struct {
	JWTSecret string
}

// BadgeConfig holds badge governance configuration
type BadgeConfig struct {
	MaxBulkSize int
}

// ===============================
// CONFIGURATION LOADING
// ===============================

// Load reads configuration from the environment. A .env file is loaded
// when present so local development does not need exported variables.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "migrations"),
			AutoMigrate:     getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
			Enabled:  getEnv("REDIS_URL", "") != "",
		},
		Identity: IdentityConfig{
			BaseURL:        getEnv("IDENTITY_BASE_URL", "http://localhost:8081"),
			Timeout:        getDurationEnv("IDENTITY_TIMEOUT", 3*time.Second),
			CacheTTL:       getDurationEnv("IDENTITY_CACHE_TTL", 30*time.Second),
			MaxRetries:     getIntEnv("IDENTITY_MAX_RETRIES", 2),
			BatchSupported: getBoolEnv("IDENTITY_BATCH_SUPPORTED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:            getBoolEnv("RATE_LIMIT_ENABLED", true),
			BulkLargeThreshold: getIntEnv("RATE_LIMIT_BULK_LARGE_THRESHOLD", 50),
		},
		Breaker: BreakerConfig{
			FailureThreshold: uint32(getIntEnv("BREAKER_FAILURE_THRESHOLD", 5)),
			RecoveryTimeout:  getDurationEnv("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
			MonitoringPeriod: getDurationEnv("BREAKER_MONITORING_PERIOD", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Badges: BadgeConfig{
			MaxBulkSize: getIntEnv("BADGE_MAX_BULK_SIZE", 500),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("APP_ENV", "development"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Badges.MaxBulkSize <= 0 {
		return fmt.Errorf("BADGE_MAX_BULK_SIZE must be positive")
	}
	return nil
}

// IsProduction reports whether the app runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ===============================
// ENVIRONMENT HELPERS
// ===============================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
