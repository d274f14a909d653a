// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// CronConfig provides the cron specs that trigger the scheduled entry points.
type CronConfig interface {
	GetCronInactivity() string
	GetCronLeaderBoardUpdate() string
	GetCronLeaderBoardDownFall() string
	GetCronPendingBadge() string
	GetCronSweep() string
}

// ChangeFeedConfig provides settings for the change feed watcher.
type ChangeFeedConfig interface {
	GetChangeFeedChannel() string
	GetChangeFeedBuffer() int
	GetChangeFeedWorkers() int
	GetQuarantineWindow() time.Duration
	GetQuarantineMaxHold() time.Duration
	GetQuarantineBackend() string
}

// ProgressConfig provides settings for the progress updater.
type ProgressConfig interface {
	GetActionTablePath() string
}

// EngagementConfig provides settings for the scheduled engagement jobs.
type EngagementConfig interface {
	GetSweepLookback() time.Duration
	GetInactivityDays() int
	GetNotificationDeepLinkBase() string
}

// StorageConfig provides settings for MinIO S3-compatible storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketExports() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	JWTAccessSecret          string
	CORSAllowAll             bool
	CORSOrigins              []string
	CORSAllowCreds           bool
	RedisURL                 string
	RedisTLSInsecure         bool
	AsynqQueueName           string
	AsynqConcurrency         int
	CronInactivity           string
	CronLeaderBoardUpdate    string
	CronLeaderBoardDownFall  string
	CronPendingBadge         string
	CronSweep                string
	ChangeFeedChannel        string
	ChangeFeedBuffer         int
	ChangeFeedWorkers        int
	QuarantineWindow         time.Duration
	QuarantineMaxHold        time.Duration
	QuarantineBackend        string
	ActionTablePath          string
	SweepLookback            time.Duration
	InactivityDays           int
	NotificationDeepLinkBase string
	MinIOEndpoint            string
	MinIOAccessKey           string
	MinIOSecretKey           string
	MinIOUseSSL              bool
	MinioBucketExports       string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// CronConfig implementation
func (c *Config) GetCronInactivity() string          { return c.CronInactivity }
func (c *Config) GetCronLeaderBoardUpdate() string   { return c.CronLeaderBoardUpdate }
func (c *Config) GetCronLeaderBoardDownFall() string { return c.CronLeaderBoardDownFall }
func (c *Config) GetCronPendingBadge() string        { return c.CronPendingBadge }
func (c *Config) GetCronSweep() string               { return c.CronSweep }

// ChangeFeedConfig implementation
func (c *Config) GetChangeFeedChannel() string        { return c.ChangeFeedChannel }
func (c *Config) GetChangeFeedBuffer() int            { return c.ChangeFeedBuffer }
func (c *Config) GetChangeFeedWorkers() int           { return c.ChangeFeedWorkers }
func (c *Config) GetQuarantineWindow() time.Duration  { return c.QuarantineWindow }
func (c *Config) GetQuarantineMaxHold() time.Duration { return c.QuarantineMaxHold }
func (c *Config) GetQuarantineBackend() string        { return c.QuarantineBackend }

// ProgressConfig implementation
func (c *Config) GetActionTablePath() string { return c.ActionTablePath }

// EngagementConfig implementation
func (c *Config) GetSweepLookback() time.Duration     { return c.SweepLookback }
func (c *Config) GetInactivityDays() int              { return c.InactivityDays }
func (c *Config) GetNotificationDeepLinkBase() string { return c.NotificationDeepLinkBase }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string      { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string     { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string     { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool          { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketExports() string { return c.MinioBucketExports }
func (c *Config) IsMinIOEnabled() bool          { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTAccessSecret:          getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		CORSAllowCreds:           strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:         mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CronInactivity:           getEnv("CRON_INACTIVITY", "0 9 * * *"),
		CronLeaderBoardUpdate:    getEnv("CRON_LEADERBOARD_UPDATE", "0 * * * *"),
		CronLeaderBoardDownFall:  getEnv("CRON_LEADERBOARD_DOWNFALL", "30 18 * * *"),
		CronPendingBadge:         getEnv("CRON_PENDING_BADGE", "0 12 * * 1"),
		CronSweep:                getEnv("CRON_SWEEP", "*/15 * * * *"),
		ChangeFeedChannel:        getEnv("CHANGEFEED_CHANNEL", "engine_changes"),
		ChangeFeedBuffer:         mustInt(getEnv("CHANGEFEED_BUFFER", "256")),
		ChangeFeedWorkers:        mustInt(getEnv("CHANGEFEED_WORKERS", "8")),
		QuarantineWindow:         mustDuration(getEnv("QUARANTINE_WINDOW", "500ms")),
		QuarantineMaxHold:        mustDuration(getEnv("QUARANTINE_MAX_HOLD", "2m")),
		QuarantineBackend:        strings.ToLower(getEnv("QUARANTINE_BACKEND", "memory")),
		ActionTablePath:          getEnv("ACTION_TABLE_PATH", ""),
		SweepLookback:            mustDuration(getEnv("SWEEP_LOOKBACK", "24h")),
		InactivityDays:           mustInt(getEnv("INACTIVITY_DAYS", "5")),
		NotificationDeepLinkBase: getEnv("NOTIFICATION_DEEP_LINK_BASE", "app://progress"),
		MinIOEndpoint:            getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:              strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketExports:       getEnv("MINIO_BUCKET_EXPORTS", "progress-exports"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.QuarantineBackend != "memory" && cfg.QuarantineBackend != "redis" {
		return nil, fmt.Errorf("QUARANTINE_BACKEND must be memory or redis, got %q", cfg.QuarantineBackend)
	}
	if cfg.QuarantineBackend == "redis" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when QUARANTINE_BACKEND is redis")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
