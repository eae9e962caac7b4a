package patchlib

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultCacheSize = 256
)

// Config holds the process settings. Every field has an environment
// variable; the command line overrides it.
type Config struct {
	Host         string
	Port         string
	RoutesPath   string
	Timeout      time.Duration
	Cache        string
	CacheSize    int
	LogLevel     string
	AccessLog    bool
	ExposeRoutes bool
}

// ConfigFromEnv reads the configuration from the environment, falling back
// to defaults for unset or malformed values.
func ConfigFromEnv() Config {
	timeout, err := ParseTimeout(getenv("HTTP_TIMEOUT", ""))
	if err != nil {
		slog.Warn("ignoring HTTP_TIMEOUT", "error", err)
		timeout = DefaultTimeout
	}

	cacheSize := DefaultCacheSize
	if s := os.Getenv("CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cacheSize = n
		} else {
			slog.Warn("ignoring CACHE_SIZE", "value", s)
		}
	}

	return Config{
		Host:         getenv("HOST", "0.0.0.0"),
		Port:         getenv("PORT", "3000"),
		RoutesPath:   os.Getenv("ROUTES"),
		Timeout:      timeout,
		Cache:        strings.ToLower(getenv("CACHE", "lru")),
		CacheSize:    cacheSize,
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		AccessLog:    os.Getenv("NOLOGS") != "true",
		ExposeRoutes: os.Getenv("EXPOSE_ROUTES") != "false",
	}
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// ParseTimeout accepts a Go duration ("2500ms", "15s") or a plain number of
// seconds. The empty string yields DefaultTimeout.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTimeout, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("timeout must be positive, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
