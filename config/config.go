// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Use Validate before starting the monitor loop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultQuotaLimit is the daily allotment YouTube grants a fresh project.
const DefaultQuotaLimit = 10000

type Config struct {
	// YouTube
	ChannelID      string
	YTClientID     string
	YTClientSecret string
	CredentialSets []string
	CredentialsDir string

	// Quota
	QuotaLimit        int
	QuotaResetZone    *time.Location
	MaxCredentialWait time.Duration

	// Resilience
	RequestTimeout     time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration

	// Chat
	DefaultPollInterval time.Duration
	FallbackDelay       time.Duration
	SendMinInterval     time.Duration

	// Storage
	DataDir string
	DBDsn   string

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Malformed numbers or durations are errors;
// missing credentials are not (see Validate).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ChannelID = os.Getenv("YT_CHANNEL_ID")
	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.CredentialSets = splitList(os.Getenv("YT_CREDENTIAL_SETS"))
	if len(cfg.CredentialSets) == 0 {
		cfg.CredentialSets = []string{"default"}
	}

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.CredentialsDir = os.Getenv("YT_CREDENTIALS_DIR")
	if cfg.CredentialsDir == "" {
		cfg.CredentialsDir = filepath.Join(cfg.DataDir, "credentials")
	}
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	var err error
	if cfg.QuotaLimit, err = intEnv("YT_QUOTA_LIMIT", DefaultQuotaLimit); err != nil {
		return nil, err
	}
	if cfg.BreakerThreshold, err = intEnv("BREAKER_THRESHOLD", 5); err != nil {
		return nil, err
	}

	zone := os.Getenv("QUOTA_RESET_TZ")
	if zone == "" {
		// YouTube quota days roll over at midnight Pacific time.
		zone = "America/Los_Angeles"
	}
	cfg.QuotaResetZone, err = time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_RESET_TZ: %w", err)
	}

	durations := []struct {
		env string
		def time.Duration
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", 15 * time.Second, &cfg.RequestTimeout},
		{"BREAKER_COOLDOWN", 30 * time.Second, &cfg.BreakerCooldown},
		{"BREAKER_MAX_COOLDOWN", 10 * time.Minute, &cfg.BreakerMaxCooldown},
		{"CHAT_DEFAULT_POLL_INTERVAL", 5 * time.Second, &cfg.DefaultPollInterval},
		{"CHAT_FALLBACK_DELAY", 30 * time.Second, &cfg.FallbackDelay},
		{"SEND_MIN_INTERVAL", 3 * time.Second, &cfg.SendMinInterval},
		{"MAX_CREDENTIAL_WAIT", 26 * time.Hour, &cfg.MaxCredentialWait},
	}
	for _, d := range durations {
		v, err := durationEnv(d.env, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}
	if cfg.BreakerMaxCooldown < cfg.BreakerCooldown {
		cfg.BreakerMaxCooldown = cfg.BreakerCooldown
	}

	return cfg, nil
}

// Validate checks the fields required to run the monitor loop.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return fmt.Errorf("missing YT_CHANNEL_ID")
	}
	if c.YTClientID == "" || c.YTClientSecret == "" {
		return fmt.Errorf("missing youtube env: require YT_CLIENT_ID, YT_CLIENT_SECRET")
	}
	seen := make(map[string]bool, len(c.CredentialSets))
	for _, id := range c.CredentialSets {
		if seen[id] {
			return fmt.Errorf("duplicate credential set %q in YT_CREDENTIAL_SETS", id)
		}
		seen[id] = true
	}
	return nil
}

func splitList(s string) []string {
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Fields(s)
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}
