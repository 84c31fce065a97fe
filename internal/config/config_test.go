package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"SESSION_TIMEOUT_SECONDS", "MAX_PIN_ATTEMPTS", "USSD_CHARGE", "SESSION_BACKEND",
		"TIER1_DAILY_LIMIT", "TIER1_MONTHLY_LIMIT", "MAX_TRANSFER_AMOUNT", "PORT", "SERVER_PORT",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SessionTimeout() != 90*time.Second {
		t.Fatalf("expected 90s session timeout, got %s", cfg.SessionTimeout())
	}
	if cfg.MaxPINAttempts != 3 {
		t.Fatalf("expected 3 max pin attempts, got %d", cfg.MaxPINAttempts)
	}
	if cfg.USSDChargeKobo != 698 {
		t.Fatalf("expected ussd charge 698 kobo, got %d", cfg.USSDChargeKobo)
	}
	if cfg.MaxTransferAmountKobo != 10000000 {
		t.Fatalf("expected max transfer 10000000 kobo, got %d", cfg.MaxTransferAmountKobo)
	}
	if cfg.SessionBackend != SessionBackendPostgres {
		t.Fatalf("expected postgres session backend, got %q", cfg.SessionBackend)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}

	want := map[int]TierLimit{
		1: {Daily: 2000000, Monthly: 30000000},
		2: {Daily: 10000000, Monthly: 200000000},
		3: {Daily: 50000000, Monthly: 500000000},
	}
	for tier, limit := range want {
		if got := cfg.TierLimits[tier]; got != limit {
			t.Fatalf("tier %d: expected %+v, got %+v", tier, limit, got)
		}
	}
}

func TestLoadConfig_NormalisesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SESSION_TIMEOUT_SECONDS", "-5")
	setEnvWithCleanup(t, "MAX_PIN_ATTEMPTS", "0")
	setEnvWithCleanup(t, "USSD_CHARGE", "abc")
	setEnvWithCleanup(t, "SESSION_BACKEND", "cassandra")
	setEnvWithCleanup(t, "TIER1_DAILY_LIMIT", "50000")
	setEnvWithCleanup(t, "TIER1_MONTHLY_LIMIT", "1000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SessionTimeoutSecs != 90 {
		t.Fatalf("expected timeout fallback to 90, got %d", cfg.SessionTimeoutSecs)
	}
	if cfg.MaxPINAttempts != 3 {
		t.Fatalf("expected pin attempts fallback to 3, got %d", cfg.MaxPINAttempts)
	}
	if cfg.USSDChargeKobo != 698 {
		t.Fatalf("expected charge fallback to 698, got %d", cfg.USSDChargeKobo)
	}
	if cfg.SessionBackend != SessionBackendPostgres {
		t.Fatalf("expected unknown backend to fall back to postgres, got %q", cfg.SessionBackend)
	}
	if got := cfg.TierLimits[1]; got.Daily != 5000000 || got.Monthly != 5000000 {
		t.Fatalf("expected monthly raised to daily (5000000), got %+v", got)
	}
}

func TestLoadConfig_InternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "USSD_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestConfig_AdminOrigins(t *testing.T) {
	cfg := Config{AdminCORSOrigins: " https://ops.example.com , ,http://localhost:3000"}
	origins := cfg.AdminOrigins()
	if len(origins) != 2 || origins[0] != "https://ops.example.com" || origins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
