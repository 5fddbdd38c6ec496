// Package config reads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/rekognify/internal/poller"
)

// Config is the service configuration.
type Config struct {
	APIBaseURL        string
	HTTPAddr          string
	HTTPClientTimeout time.Duration
	TransferTimeout   time.Duration
	Poll              poller.Policy
	PollTimeout       time.Duration
	MaxUploadSize     int64
	DatabaseDSN       string
	RedisAddr         string
	ResultCacheTTL    time.Duration
	JWTSecret         string
	JWTAudience       string
	LogLevel          string
	ShutdownTimeout   time.Duration
}

type loader struct {
	errs []error
}

// LoadFromEnv reads and validates the configuration.
func LoadFromEnv() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		APIBaseURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		HTTPClientTimeout: l.duration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
		TransferTimeout:   l.duration("TRANSFER_TIMEOUT", 5*time.Minute),
		Poll: poller.Policy{
			MaxRetries: l.int("POLL_MAX_RETRIES", 5),
			BaseDelay:  l.duration("POLL_BASE_DELAY", time.Second),
			Factor:     l.int("POLL_BACKOFF_FACTOR", 2),
		},
		PollTimeout:     l.duration("POLL_TIMEOUT", 2*time.Minute),
		MaxUploadSize:   int64(l.int("MAX_UPLOAD_SIZE", 10<<20)),
		DatabaseDSN:     getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=rekognify port=5432 sslmode=disable"),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		ResultCacheTTL:  l.duration("RESULT_CACHE_TTL", time.Hour),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAudience:     strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that parsed but make no sense.
func (c *Config) Validate() error {
	var errs []error

	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL must be an absolute http(s) url (got %q)", c.APIBaseURL))
	}
	if err := c.Poll.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize))
	}
	if c.HTTPClientTimeout <= 0 || c.TransferTimeout <= 0 || c.PollTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("timeouts must be > 0 (got client=%s, transfer=%s, poll=%s, shutdown=%s)",
			c.HTTPClientTimeout, c.TransferTimeout, c.PollTimeout, c.ShutdownTimeout))
	}
	if c.ResultCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("RESULT_CACHE_TTL must be > 0 (got %s)", c.ResultCacheTTL))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %q", key, value))
		return fallback
	}
	return d
}

func (l *loader) int(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %q", key, value))
		return fallback
	}
	return n
}
