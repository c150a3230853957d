// Package config loads carepulse configuration from the environment.
// A .env file in the working directory is applied first when present.
package config

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the carepulse scheduler.
// Values are loaded from environment variables; durations keep both the
// raw string (for reporting) and the parsed value.
type Config struct {
	SchedulerToken string `json:"-"`

	// DBDriver selects the store backend: "postgres" or "sqlite".
	DBDriver    string `json:"db_driver"`
	DatabaseURL string `json:"database_url"`
	SQLitePath  string `json:"sqlite_path,omitempty"`

	RedisAddr string `json:"redis_addr,omitempty"`
	HTTPAddr  string `json:"http_addr"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	// SweepSchedule is a five-field cron expression. When set it
	// overrides SweepInterval.
	SweepSchedule string `json:"sweep_schedule,omitempty"`

	SweepBatchSize int `json:"sweep_batch_size"`

	SweepClaimLease    time.Duration `json:"-"`
	SweepClaimLeaseStr string        `json:"sweep_claim_lease"`

	SweepStaleAfter    time.Duration `json:"-"`
	SweepStaleAfterStr string        `json:"sweep_stale_after"`

	// DedupWindow enables the per-subject alert guard when positive.
	DedupWindow    time.Duration `json:"-"`
	DedupWindowStr string        `json:"dedup_window"`

	DefaultCheckinHour   int `json:"default_checkin_hour"`
	DefaultCheckinMinute int `json:"default_checkin_minute"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    string `json:"metrics_port"`
	MetricsPath    string `json:"metrics_path"`

	// LeaderElectEnabled gates the advisory-lock elector. Postgres only;
	// disable it for single-replica deployments that want the sweep loop
	// running immediately.
	LeaderElectEnabled bool `json:"leader_elect_enabled"`

	// LeaderLockKey: all instances sharing the same database must use
	// the same key. Postgres only.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect
	// local connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		SchedulerToken:             os.Getenv("SCHEDULER_TOKEN"),
		DBDriver:                   os.Getenv("DB_DRIVER"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		SQLitePath:                 os.Getenv("SQLITE_PATH"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		SweepIntervalStr:           os.Getenv("SWEEP_INTERVAL"),
		SweepSchedule:              os.Getenv("SWEEP_SCHEDULE"),
		SweepClaimLeaseStr:         os.Getenv("SWEEP_CLAIM_LEASE"),
		SweepStaleAfterStr:         os.Getenv("SWEEP_STALE_AFTER"),
		DedupWindowStr:             os.Getenv("DEDUP_WINDOW"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPort:                os.Getenv("METRICS_PORT"),
		MetricsPath:                os.Getenv("METRICS_PATH"),
		LeaderElectEnabled:         os.Getenv("LEADER_ELECT_ENABLED") != "false",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	if cfg.DBDriver == "" {
		cfg.DBDriver = "postgres"
	}

	if batchStr := os.Getenv("SWEEP_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.SweepBatchSize = n
		} else {
			log.Printf("config: invalid SWEEP_BATCH_SIZE %q (must be a positive integer), using default 25", batchStr)
		}
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 25
	}

	cfg.DefaultCheckinHour = 9
	if hourStr := os.Getenv("DEFAULT_CHECKIN_HOUR"); hourStr != "" {
		if n, err := parseInt(hourStr); err == nil && n <= 23 {
			cfg.DefaultCheckinHour = n
		} else {
			log.Printf("config: invalid DEFAULT_CHECKIN_HOUR %q (must be 0-23), using default 9", hourStr)
		}
	}
	if minuteStr := os.Getenv("DEFAULT_CHECKIN_MINUTE"); minuteStr != "" {
		if n, err := parseInt(minuteStr); err == nil && n <= 59 {
			cfg.DefaultCheckinMinute = n
		} else {
			log.Printf("config: invalid DEFAULT_CHECKIN_MINUTE %q (must be 0-59), using default 0", minuteStr)
		}
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 615243", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 615243
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support platform-provided PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "carepulse.db"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "1m"
	}
	if cfg.SweepClaimLeaseStr == "" {
		cfg.SweepClaimLeaseStr = "5m"
	}
	if cfg.SweepStaleAfterStr == "" {
		cfg.SweepStaleAfterStr = "24h"
	}
	if cfg.DedupWindowStr == "" {
		cfg.DedupWindowStr = "0"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.SweepClaimLeaseStr); err == nil {
		cfg.SweepClaimLease = d
	}
	if d, err := time.ParseDuration(cfg.SweepStaleAfterStr); err == nil {
		cfg.SweepStaleAfter = d
	}
	if d, err := time.ParseDuration(cfg.DedupWindowStr); err == nil {
		cfg.DedupWindow = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		SchedulerToken          string `json:"scheduler_token"`
		DBDriver                string `json:"db_driver"`
		DatabaseURL             string `json:"database_url,omitempty"`
		SQLitePath              string `json:"sqlite_path,omitempty"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		SweepInterval           string `json:"sweep_interval"`
		SweepSchedule           string `json:"sweep_schedule,omitempty"`
		SweepBatchSize          int    `json:"sweep_batch_size"`
		SweepClaimLease         string `json:"sweep_claim_lease"`
		SweepStaleAfter         string `json:"sweep_stale_after"`
		DedupWindow             string `json:"dedup_window"`
		DefaultCheckinHour      int    `json:"default_checkin_hour"`
		DefaultCheckinMinute    int    `json:"default_checkin_minute"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPort             string `json:"metrics_port"`
		MetricsPath             string `json:"metrics_path"`
		LeaderElectEnabled      bool   `json:"leader_elect_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		SchedulerToken:          maskToken(c.SchedulerToken),
		DBDriver:                c.DBDriver,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		SQLitePath:              c.SQLitePath,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		SweepInterval:           c.SweepIntervalStr,
		SweepSchedule:           c.SweepSchedule,
		SweepBatchSize:          c.SweepBatchSize,
		SweepClaimLease:         c.SweepClaimLeaseStr,
		SweepStaleAfter:         c.SweepStaleAfterStr,
		DedupWindow:             c.DedupWindowStr,
		DefaultCheckinHour:      c.DefaultCheckinHour,
		DefaultCheckinMinute:    c.DefaultCheckinMinute,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPort:             c.MetricsPort,
		MetricsPath:             c.MetricsPath,
		LeaderElectEnabled:      c.LeaderElectEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskToken fully masks the bearer token but shows whether one is set.
func maskToken(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "***"
}
