// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to ["http://localhost:5173"] (dashboard dev server).
	CORSOrigins []string

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store, which only suits a single instance.
	DatabaseURL string

	// AutoMigrate applies pending goose migrations at startup. Defaults to true.
	AutoMigrate bool

	// RedisURL enables the cross-instance event relay when set.
	RedisURL string

	// RedisChannel is the pub/sub channel the relay uses. Defaults to "fleet:events".
	RedisChannel string

	// EventQueueSize is the per-observer delivery queue length. Defaults to 256.
	EventQueueSize int

	// EmergencyDeliveryTimeout bounds the retrying delivery of emergency events
	// before they are escalated. Defaults to 10s.
	EmergencyDeliveryTimeout time.Duration

	// EscalationWebhookURL receives undeliverable emergency events. Empty logs them instead.
	EscalationWebhookURL string

	// RateLimitPerMinute is the per-client request budget. 0 disables limiting.
	// Defaults to 1200.
	RateLimitPerMinute int

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// InstanceID tags events this instance puts on the relay. Defaults to the hostname.
	InstanceID string
}

// Load reads configuration from environment variables and returns a Config.
// Returns one error naming every variable with an invalid value.
func Load() (Config, error) {
	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		CORSOrigins:          splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		RedisChannel:         getEnv("REDIS_CHANNEL", "fleet:events"),
		EscalationWebhookURL: os.Getenv("ESCALATION_WEBHOOK_URL"),
		InstanceID:           getEnv("INSTANCE_ID", hostname()),
	}

	var p parser
	cfg.AutoMigrate = p.bool("AUTO_MIGRATE", true)
	cfg.EventQueueSize = p.int("EVENT_QUEUE_SIZE", 256, 1)
	cfg.EmergencyDeliveryTimeout = p.duration("EMERGENCY_DELIVERY_TIMEOUT", 10*time.Second)
	cfg.RateLimitPerMinute = p.int("RATE_LIMIT_PER_MINUTE", 1200, 0)
	cfg.MaxBodyBytes = int64(p.int("MAX_BODY_BYTES", 1<<20, 1))

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		p.invalid = append(p.invalid, "LOG_LEVEL")
	}

	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

// parser collects the names of variables that fail to parse so Load can
// report them all at once.
type parser struct {
	invalid []string
}

func (p *parser) int(key string, fallback, minimum int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minimum {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "fleetcore"
	}
	return h
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
