package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the pulse service.
// Environment variables are parsed from the PULSE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	MirrorPath string `envconfig:"MIRROR_PATH" default:"data/mirror.db"`
	PlansPath  string `envconfig:"PLANS_PATH" default:"data/daily_plans.json"`
	PoolSize   int    `envconfig:"POOL_SIZE" default:"5"`

	// External tabular source: CSV export endpoints of the projects tab
	// and the daily works tab. An empty works URL disables the works sync.
	SheetURL            string `envconfig:"SHEET_URL" default:""`
	WorksSheetURL       string `envconfig:"WORKS_SHEET_URL" default:""`
	FetchTimeoutSeconds int    `envconfig:"FETCH_TIMEOUT_SECONDS" default:"60"`

	// Sync cadence
	SyncIntervalSeconds int `envconfig:"SYNC_INTERVAL_SECONDS" default:"300"`

	// Cache TTLs
	CacheTTLSeconds      int `envconfig:"CACHE_TTL_SECONDS" default:"60"`
	StatsCacheTTLSeconds int `envconfig:"STATS_CACHE_TTL_SECONDS" default:"300"`

	// Scheduler
	Timezone             string `envconfig:"TIMEZONE" default:"Asia/Tashkent"`
	SchedulerTickSeconds int    `envconfig:"SCHEDULER_TICK_SECONDS" default:"20"`
	ProblemDigestAt      string `envconfig:"PROBLEM_DIGEST_AT" default:"17:00"`
	PlanDigestAt         string `envconfig:"PLAN_DIGEST_AT" default:"19:00"`
	WorksDigestAt        string `envconfig:"WORKS_DIGEST_AT" default:"19:17"`
	ReminderMinute       int    `envconfig:"REMINDER_MINUTE" default:"0"`

	// Identities
	AdminIDs         []int64 `envconfig:"ADMIN_IDS" default:""`
	DigestRecipients []int64 `envconfig:"DIGEST_RECIPIENTS" default:""`

	// Notification transport
	TelegramToken string `envconfig:"TELEGRAM_TOKEN" default:""`

	// Read API paging
	PageSize int `envconfig:"PAGE_SIZE" default:"5"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates derived settings that envconfig cannot check on
// its own (timezone, time-of-day strings, bounds).
func (c *Config) ResolveDefaults() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unsupported TIMEZONE %q: %w", c.Timezone, err)
	}
	for _, at := range []string{c.ProblemDigestAt, c.PlanDigestAt, c.WorksDigestAt} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("bad time-of-day %q: %w", at, err)
		}
	}
	if c.ReminderMinute < 0 || c.ReminderMinute > 59 {
		return fmt.Errorf("REMINDER_MINUTE out of range: %d", c.ReminderMinute)
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.PageSize <= 0 {
		c.PageSize = 5
	}
	return nil
}

// Location returns the scheduler's wall-clock location. ResolveDefaults has
// already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// New creates a new Config by parsing environment variables.
// Example: PULSE_HTTP_PORT, PULSE_SHEET_URL, PULSE_ADMIN_IDS.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PULSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("mirror_path", cfg.MirrorPath).
		Str("plans_path", cfg.PlansPath).
		Int("sync_interval_s", cfg.SyncIntervalSeconds).
		Str("timezone", cfg.Timezone).
		Int("admins", len(cfg.AdminIDs)).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		HTTPPort:                  8080,
		MirrorPath:                "file::memory:",
		PlansPath:                 "daily_plans.json",
		PoolSize:                  2,
		SyncIntervalSeconds:       300,
		CacheTTLSeconds:           60,
		StatsCacheTTLSeconds:      300,
		Timezone:                  "UTC",
		SchedulerTickSeconds:      1,
		ProblemDigestAt:           "17:00",
		PlanDigestAt:              "19:00",
		WorksDigestAt:             "19:17",
		FetchTimeoutSeconds:       5,
		PageSize:                  5,
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 5,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
