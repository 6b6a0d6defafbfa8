// Package config loads application configuration from environment
// variables with sensible defaults, validated at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Audit     AuditConfig
	Retention retention.Policy

	LogLevel observability.LogLevel
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
}

// PostgresConfig holds database connection configuration
type PostgresConfig struct {
	URL              string
	MaxConns         int
	MinConns         int
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	MaxLifetime      time.Duration
	MaxIdleTime      time.Duration
}

// RedisConfig holds the optional Redis connection for the live audit feed
type RedisConfig struct {
	URL      string // empty disables Redis; the feed falls back to in-process fanout
	Password string
	DB       int
}

// AuditConfig holds audit query/export tuning
type AuditConfig struct {
	DefaultPageLimit int
	MaxPageLimit     int
	MaxExportRecords int
	ExportBatchSize  int

	ArchiveDir string
	BackupDir  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		},
		Postgres: PostgresConfig{
			URL:              getEnv("WARDEN_POSTGRES_URL", "postgres://localhost/warden?sslmode=disable"),
			MaxConns:         getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 25),
			MinConns:         getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 5),
			ConnectTimeout:   getEnvDuration("WARDEN_POSTGRES_CONNECT_TIMEOUT", 10*time.Second),
			StatementTimeout: getEnvDuration("WARDEN_POSTGRES_STATEMENT_TIMEOUT", 30*time.Second),
			MaxLifetime:      getEnvDuration("WARDEN_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime:      getEnvDuration("WARDEN_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("WARDEN_REDIS_URL", ""),
			Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("WARDEN_REDIS_DB", 0),
		},
		Audit: AuditConfig{
			DefaultPageLimit: getEnvInt("WARDEN_AUDIT_PAGE_LIMIT", 100),
			MaxPageLimit:     getEnvInt("WARDEN_AUDIT_MAX_PAGE_LIMIT", 1000),
			MaxExportRecords: getEnvInt("WARDEN_AUDIT_MAX_EXPORT_RECORDS", 100000),
			ExportBatchSize:  getEnvInt("WARDEN_AUDIT_EXPORT_BATCH_SIZE", 1000),
			ArchiveDir:       getEnv("WARDEN_ARCHIVE_DIR", "/var/lib/warden/archives/audit_logs"),
			BackupDir:        getEnv("WARDEN_BACKUP_DIR", "/var/lib/warden/backups/audit_logs"),
		},
		Retention: retention.Policy{
			RetentionDays:       getEnvInt("WARDEN_RETENTION_DAYS", 90),
			ArchiveAfterDays:    getEnvInt("WARDEN_ARCHIVE_AFTER_DAYS", 30),
			CompressAfterDays:   getEnvInt("WARDEN_COMPRESS_AFTER_DAYS", 7),
			MaxLogSizeMB:        getEnvInt("WARDEN_MAX_LOG_SIZE_MB", 1000),
			BackupIntervalHours: getEnvInt("WARDEN_BACKUP_INTERVAL_HOURS", 24),
		},
		LogLevel: observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
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
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Audit.ExportBatchSize <= 0 {
		return fmt.Errorf("export batch size must be positive")
	}
	if c.Audit.MaxExportRecords < c.Audit.ExportBatchSize {
		return fmt.Errorf("max export records must be at least one batch")
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention policy: %w", err)
	}
	return nil
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
