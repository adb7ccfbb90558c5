// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr  string
	SQLitePath string

	ResizeEndpoint string
	PlaceholderURL string

	MemCapacity   int
	SyncCapacity  int
	AsyncCapacity int
	CacheTTL      time.Duration
	FallbackTTL   time.Duration
	EvictInterval time.Duration

	PollInterval   time.Duration
	PollBudget     int
	ResolveTimeout time.Duration
	WaitBound      time.Duration

	RowHeight     float64
	Gap           float64
	Columns       int
	BufferRows    int
	GateThreshold float64

	// Kafka connection details are read by the consumer's own FromEnv.
	InvalidationEnabled bool
}

func FromEnv() Config {
	ttl := getduration("CACHE_TTL", 24*time.Hour)
	fallbackTTL := getduration("FALLBACK_TTL", 10*time.Minute)
	if fallbackTTL > ttl {
		fallbackTTL = ttl
	}

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
		SQLitePath: getenv("SQLITE_PATH", "gallerycache.db"),

		ResizeEndpoint: getenv("RESIZE_ENDPOINT", "http://localhost:8000/resize-image"),
		PlaceholderURL: getenv("PLACEHOLDER_URL", "/static/placeholder.png"),

		MemCapacity:   getint("MEM_CAPACITY", 100),
		SyncCapacity:  getint("SYNC_CAPACITY", 100),
		AsyncCapacity: getint("ASYNC_CAPACITY", 500),
		CacheTTL:      ttl,
		FallbackTTL:   fallbackTTL,
		EvictInterval: getduration("EVICT_INTERVAL", time.Minute),

		PollInterval:   getduration("POLL_INTERVAL", time.Second),
		PollBudget:     getint("POLL_BUDGET", 10),
		ResolveTimeout: getduration("RESOLVE_TIMEOUT", 30*time.Second),
		WaitBound:      getduration("WAIT_BOUND", 45*time.Second),

		RowHeight:     getfloat("ROW_HEIGHT", 288),
		Gap:           getfloat("GAP", 16),
		Columns:       getint("COLUMNS", 2),
		BufferRows:    getint("BUFFER_ROWS", 2),
		GateThreshold: getfloat("GATE_THRESHOLD", 200),

		InvalidationEnabled: getbool("INVALIDATION_ENABLED", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
