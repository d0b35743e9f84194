package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("YT_CREDENTIAL_SETS", "")
	t.Setenv("YT_QUOTA_LIMIT", "")
	t.Setenv("REQUEST_TIMEOUT", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("YT_CREDENTIALS_DIR", "")
	t.Setenv("QUOTA_RESET_TZ", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.QuotaLimit != DefaultQuotaLimit {
		t.Errorf("QuotaLimit = %d, want %d", cfg.QuotaLimit, DefaultQuotaLimit)
	}
	if len(cfg.CredentialSets) != 1 || cfg.CredentialSets[0] != "default" {
		t.Errorf("CredentialSets = %v, want [default]", cfg.CredentialSets)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", cfg.RequestTimeout)
	}
	if cfg.CredentialsDir != "data/credentials" {
		t.Errorf("CredentialsDir = %q", cfg.CredentialsDir)
	}
	if cfg.QuotaResetZone.String() != "America/Los_Angeles" {
		t.Errorf("QuotaResetZone = %v", cfg.QuotaResetZone)
	}
}

func TestLoadCredentialSets(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int
	}{
		{"comma separated", "a,b,c", 3},
		{"space separated", "a b", 2},
		{"mixed separators", "a, b c", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("YT_CREDENTIAL_SETS", tt.env)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if len(cfg.CredentialSets) != tt.want {
				t.Errorf("len(CredentialSets) = %d, want %d", len(cfg.CredentialSets), tt.want)
			}
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"YT_QUOTA_LIMIT", "lots"},
		{"YT_QUOTA_LIMIT", "-5"},
		{"BREAKER_COOLDOWN", "soon"},
		{"SEND_MIN_INTERVAL", "0s"},
		{"QUOTA_RESET_TZ", "Mars/Olympus_Mons"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestMaxCooldownNeverBelowCooldown(t *testing.T) {
	t.Setenv("BREAKER_COOLDOWN", "2m")
	t.Setenv("BREAKER_MAX_COOLDOWN", "1m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BreakerMaxCooldown != 2*time.Minute {
		t.Errorf("BreakerMaxCooldown = %v, want 2m", cfg.BreakerMaxCooldown)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("YT_CHANNEL_ID", "UCabc")
	t.Setenv("YT_CLIENT_ID", "id")
	t.Setenv("YT_CLIENT_SECRET", "secret")
	t.Setenv("YT_CREDENTIAL_SETS", "a,b")
	cfg, _ := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	t.Setenv("YT_CREDENTIAL_SETS", "a,a")
	cfg, _ = Load()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for duplicate credential sets")
	}

	t.Setenv("YT_CREDENTIAL_SETS", "a")
	t.Setenv("YT_CHANNEL_ID", "")
	cfg, _ = Load()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when YT_CHANNEL_ID missing")
	}
}
