package model

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultURL is the measurement page opened when no target is configured.
	DefaultURL = "https://speed.cloudflare.com"

	// SleepFloor is the minimum sleep between attempts. It guards against a
	// misconfigured near-zero interval turning the supervisor into a tight
	// browser-spawning loop.
	SleepFloor = 30 * time.Second
)

// Config holds the process configuration. Constructed once at startup and
// read-only afterwards.
type Config struct {
	AcceptTerms    bool
	URL            string
	TestInterval   time.Duration
	AttemptTimeout time.Duration
	RetryInterval  time.Duration
	MaxRetries     int
	Schedule       string
	ProfileDir     string
	DataDir        string
	PushURL        string
	Headless       bool
	Verbose        bool
}

// LoadConfig reads configuration from NETZBREMSE_* environment variables.
// Interval keys are plain seconds. A cron expression in NETZBREMSE_SCHEDULE
// overrides the test interval with the spacing between two consecutive fires.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETZBREMSE")
	v.AutomaticEnv()

	v.SetDefault("accept_terms", false)
	v.SetDefault("url", DefaultURL)
	v.SetDefault("test_interval", 3600)
	v.SetDefault("attempt_timeout", 3600)
	v.SetDefault("retry_interval", 900)
	v.SetDefault("max_retries", 3)
	v.SetDefault("schedule", "")
	v.SetDefault("profile_dir", "profile")
	v.SetDefault("data_dir", "")
	v.SetDefault("push_url", "")
	v.SetDefault("headless", true)
	v.SetDefault("verbose", false)

	cfg := Config{
		AcceptTerms:    v.GetBool("accept_terms"),
		URL:            v.GetString("url"),
		TestInterval:   time.Duration(v.GetInt("test_interval")) * time.Second,
		AttemptTimeout: time.Duration(v.GetInt("attempt_timeout")) * time.Second,
		RetryInterval:  time.Duration(v.GetInt("retry_interval")) * time.Second,
		MaxRetries:     v.GetInt("max_retries"),
		Schedule:       v.GetString("schedule"),
		ProfileDir:     v.GetString("profile_dir"),
		DataDir:        v.GetString("data_dir"),
		PushURL:        v.GetString("push_url"),
		Headless:       v.GetBool("headless"),
		Verbose:        v.GetBool("verbose"),
	}

	if cfg.Schedule != "" {
		d, err := IntervalFromCron(cfg.Schedule)
		if err != nil {
			return Config{}, fmt.Errorf("parsing NETZBREMSE_SCHEDULE: %w", err)
		}
		cfg.TestInterval = d
	}

	if cfg.MaxRetries < 1 {
		return Config{}, fmt.Errorf("NETZBREMSE_MAX_RETRIES must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.AttemptTimeout <= 0 {
		return Config{}, fmt.Errorf("NETZBREMSE_ATTEMPT_TIMEOUT must be positive")
	}

	cfg.TestInterval = max(cfg.TestInterval, SleepFloor)
	cfg.RetryInterval = max(cfg.RetryInterval, SleepFloor)

	return cfg, nil
}
