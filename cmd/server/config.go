package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

type Config struct {
	HTTPPort string
	TCPPort  string

	CacheShards int

	ReaperInterval   time.Duration
	PendingQueueSize int
	PendingOverflow  ttl.OverflowPolicy

	PersistenceType  string
	DataDir          string
	SnapshotInterval time.Duration

	RedisAddr     string
	RedisDB       int
	RedisPassword string
	RedisTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	EnableCORS    bool
	EnableMetrics bool
	LogLevel      log.Level
}

func loadConfig() (*Config, error) {
	overflow, err := ttl.ParseOverflowPolicy(getenv("PENDING_OVERFLOW", "spill"))
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		HTTPPort: getenv("PORT", "8080"),
		TCPPort:  getenv("TCP_PORT", "7600"),

		CacheShards: getenvInt("CACHE_SHARDS", 256),

		ReaperInterval:   getenvDuration("REAPER_INTERVAL", 100*time.Millisecond),
		PendingQueueSize: getenvInt("PENDING_QUEUE_SIZE", 10000),
		PendingOverflow:  overflow,

		PersistenceType:  getenv("PERSISTENCE_TYPE", "none"),
		DataDir:          getenv("DATA_DIR", "./data"),
		SnapshotInterval: getenvDuration("SNAPSHOT_INTERVAL", 0),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisTimeout:  getenvDuration("REDIS_TIMEOUT", 2*time.Second),

		HTTPReadTimeout:  getenvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		HTTPWriteTimeout: getenvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:  getenvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:  getenvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		EnableCORS:    getenvBool("ENABLE_CORS", false),
		EnableMetrics: getenvBool("ENABLE_METRICS", true),
		LogLevel:      level,
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.CacheShards < 1 || cfg.CacheShards > 8192 {
		return fmt.Errorf("CACHE_SHARDS must be 1-8192, got %d", cfg.CacheShards)
	}
	if cfg.ReaperInterval < time.Millisecond || cfg.ReaperInterval > 5*time.Second {
		return fmt.Errorf("REAPER_INTERVAL must be between 1ms and 5s, got %s", cfg.ReaperInterval)
	}
	if cfg.PendingQueueSize < 1 {
		return fmt.Errorf("PENDING_QUEUE_SIZE must be >= 1, got %d", cfg.PendingQueueSize)
	}
	if cfg.SnapshotInterval < 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL cannot be negative")
	}

	validPersistence := map[string]bool{
		"file":   true,
		"pebble": true,
		"none":   true,
	}
	if !validPersistence[cfg.PersistenceType] {
		return fmt.Errorf("invalid persistence type: %s", cfg.PersistenceType)
	}
	return nil
}

func getenv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getenvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getenvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
