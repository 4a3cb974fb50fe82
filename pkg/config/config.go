package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/launchdesk/gatekeeper/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Authorization configuration
	Authz AuthzConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RateLimitEnabled toggles the Redis-backed limiter
	RateLimitEnabled bool
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis settings. Redis is optional: without it the
// permission cache epoch is process-local and rate limiting is disabled.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthzConfig holds permission engine settings
type AuthzConfig struct {
	CacheSize        int
	CacheTTL         time.Duration
	SeedBuiltInRoles bool
	AuditAttempts    int
	AuditBackoff     time.Duration
}

// AuditConfig holds audit snapshot settings
type AuditConfig struct {
	// SnapshotEnabled turns on the scheduled NDJSON export
	SnapshotEnabled bool
	// SnapshotSchedule is a cron expression for snapshot runs
	SnapshotSchedule string
	// SnapshotDir is where snapshot files are written
	SnapshotDir string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Authz:         loadAuthzConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:             getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:             getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:      getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:      getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:       getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
		RateLimitEnabled: getEnvBool("GATEKEEPER_RATELIMIT_ENABLED", true),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("GATEKEEPER_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("GATEKEEPER_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("GATEKEEPER_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("GATEKEEPER_REDIS_URL", ""),
		Password: getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		DB:       getEnvInt("GATEKEEPER_REDIS_DB", 0),
		PoolSize: getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
	}
}

// loadAuthzConfig loads permission engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CacheSize:        getEnvInt("GATEKEEPER_CACHE_SIZE", 256),
		CacheTTL:         getEnvDuration("GATEKEEPER_CACHE_TTL", 5*time.Minute),
		SeedBuiltInRoles: getEnvBool("GATEKEEPER_SEED_BUILTIN_ROLES", true),
		AuditAttempts:    getEnvInt("GATEKEEPER_AUDIT_ATTEMPTS", 3),
		AuditBackoff:     getEnvDuration("GATEKEEPER_AUDIT_BACKOFF", 100*time.Millisecond),
	}
}

// loadAuditConfig loads audit snapshot configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		SnapshotEnabled:  getEnvBool("GATEKEEPER_AUDIT_SNAPSHOT_ENABLED", false),
		SnapshotSchedule: getEnv("GATEKEEPER_AUDIT_SNAPSHOT_SCHEDULE", "0 2 * * *"),
		SnapshotDir:      getEnv("GATEKEEPER_AUDIT_SNAPSHOT_DIR", "/var/gatekeeper/audit-snapshots"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Authz.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Authz.AuditAttempts <= 0 {
		return fmt.Errorf("audit attempts must be positive")
	}

	if c.Audit.SnapshotEnabled {
		if c.Audit.SnapshotSchedule == "" {
			return fmt.Errorf("audit snapshot schedule is required when snapshots are enabled")
		}
		if c.Audit.SnapshotDir == "" {
			return fmt.Errorf("audit snapshot directory is required when snapshots are enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
