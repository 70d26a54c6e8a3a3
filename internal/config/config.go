// Package config provides centralized configuration loaded from environment
// variables. Assembled once at process start and passed to every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultF1BaseURL      = "https://www.formula1.com"
	DefaultOpenF1BaseURL  = "https://api.openf1.org/v1"
	DefaultPushoverURL    = "https://api.pushover.net/1/messages.json"
	DefaultScheduleCron   = "0 * * * *"
	DefaultLeadTime       = 5 * time.Minute
	DefaultHorizon        = 24 * time.Hour
	DefaultMaxKeyLength   = 80
	DefaultRedisKeyPrefix = "race-alerts:exec:"
)

// Schedule sources.
const (
	SourceScrape = "scrape"
	SourceOpenF1 = "openf1"
)

// Delayed-execution backends.
const (
	BackendPostgres = "postgres"
	BackendAMQP     = "amqp"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Season / sources
	SeasonYear              int
	ScheduleSource          string
	F1BaseURL               string
	OpenF1BaseURL           string
	OpenF1RequestsPerMinute int
	ScrapeRequestsPerMinute int

	// Scheduling
	LeadTime     time.Duration
	Horizon      time.Duration
	MaxKeyLength int
	ScheduleCron string

	// Push transport
	PushoverToken   string
	PushoverUserKey string
	PushoverURL     string
	DisplayTimezone string

	// Delayed execution
	DelayBackend     string
	DispatchInterval time.Duration
	AMQPURL          string
	RedisURL         string
	RedisKeyPrefix   string

	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogLevel    string
	APIKey      string // required in X-API-Key on POST endpoints when set

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
// Required settings are checked per command with the Require* methods.
func Load() (*Config, error) {
	cfg := &Config{
		SeasonYear:              envInt("SEASON_YEAR", envInt("YEAR", time.Now().UTC().Year())),
		ScheduleSource:          strings.ToLower(envOr("SCHEDULE_SOURCE", SourceScrape)),
		F1BaseURL:               strings.TrimRight(envOr("F1_BASE_URL", DefaultF1BaseURL), "/"),
		OpenF1BaseURL:           strings.TrimRight(envOr("OPENF1_BASE_URL", DefaultOpenF1BaseURL), "/"),
		OpenF1RequestsPerMinute: envInt("OPENF1_REQUESTS_PER_MINUTE", 30),
		ScrapeRequestsPerMinute: envInt("SCRAPE_REQUESTS_PER_MINUTE", 60),

		LeadTime:     time.Duration(envInt("NOTIFY_LEAD_MINUTES", int(DefaultLeadTime/time.Minute))) * time.Minute,
		Horizon:      time.Duration(envInt("SCHEDULE_HORIZON_HOURS", int(DefaultHorizon/time.Hour))) * time.Hour,
		MaxKeyLength: envInt("EXECUTION_KEY_MAX_LEN", DefaultMaxKeyLength),
		ScheduleCron: envOr("SCHEDULE_CRON", DefaultScheduleCron),

		PushoverToken:   envOr("PUSHOVER_TOKEN", ""),
		PushoverUserKey: envOr("PUSHOVER_USER_KEY", ""),
		PushoverURL:     envOr("PUSHOVER_URL", DefaultPushoverURL),
		DisplayTimezone: envOr("DISPLAY_TIMEZONE", ""),

		DelayBackend:     strings.ToLower(envOr("DELAY_BACKEND", BackendPostgres)),
		DispatchInterval: time.Duration(envInt("DISPATCH_INTERVAL_SECONDS", 30)) * time.Second,
		AMQPURL:          envOr("AMQP_URL", ""),
		RedisURL:         envOr("REDIS_URL", ""),
		RedisKeyPrefix:   envOr("REDIS_KEY_PREFIX", DefaultRedisKeyPrefix),

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 5),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		APIKey:      envOr("API_KEY", ""),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks values that are wrong regardless of which command runs.
func (c *Config) validate() error {
	switch c.ScheduleSource {
	case SourceScrape, SourceOpenF1:
	default:
		return fmt.Errorf("SCHEDULE_SOURCE must be %q or %q, got %q", SourceScrape, SourceOpenF1, c.ScheduleSource)
	}
	switch c.DelayBackend {
	case BackendPostgres, BackendAMQP:
	default:
		return fmt.Errorf("DELAY_BACKEND must be %q or %q, got %q", BackendPostgres, BackendAMQP, c.DelayBackend)
	}
	if c.LeadTime <= 0 {
		return fmt.Errorf("NOTIFY_LEAD_MINUTES must be positive")
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("SCHEDULE_HORIZON_HOURS must be positive")
	}
	if c.MaxKeyLength <= 0 {
		return fmt.Errorf("EXECUTION_KEY_MAX_LEN must be positive")
	}
	if c.DisplayTimezone != "" {
		if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
			return fmt.Errorf("DISPLAY_TIMEZONE %q: %w", c.DisplayTimezone, err)
		}
	}
	return nil
}

// RequirePushover reports whether the push transport credentials are set.
func (c *Config) RequirePushover() error {
	if c.PushoverToken == "" || c.PushoverUserKey == "" {
		return fmt.Errorf("PUSHOVER_TOKEN and PUSHOVER_USER_KEY must be set")
	}
	return nil
}

// RequireDelayBackend reports whether the selected delayed-execution backend
// has its connection settings.
func (c *Config) RequireDelayBackend() error {
	switch c.DelayBackend {
	case BackendAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL must be set when DELAY_BACKEND=%s", BackendAMQP)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when DELAY_BACKEND=%s (idempotency store)", BackendAMQP)
		}
	default:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when DELAY_BACKEND=%s", BackendPostgres)
		}
	}
	return nil
}

// DisplayLocation returns the configured display timezone, or nil when unset.
func (c *Config) DisplayLocation() *time.Location {
	if c.DisplayTimezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil
	}
	return loc
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
