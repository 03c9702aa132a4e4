package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesLedgerSyncServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "LEDGER_SYNC_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_DefaultsAreBounded(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SYNC_PAGE_SIZE")
	unsetEnvWithCleanup(t, "SYNC_LOCK_TTL_SECONDS")
	unsetEnvWithCleanup(t, "STALE_SYNC_HOURS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SyncPageSize != 100 {
		t.Fatalf("expected default SyncPageSize 100, got %d", cfg.SyncPageSize)
	}
	if cfg.SyncLockTTLSeconds != 300 {
		t.Fatalf("expected default SyncLockTTLSeconds 300, got %d", cfg.SyncLockTTLSeconds)
	}
	if cfg.StaleSyncHours != 24 {
		t.Fatalf("expected default StaleSyncHours 24, got %d", cfg.StaleSyncHours)
	}
}

func TestLoadConfig_PageSizeIsCapped(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SYNC_PAGE_SIZE", "9000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SyncPageSize != 500 {
		t.Fatalf("expected SyncPageSize capped at 500, got %d", cfg.SyncPageSize)
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{name: "production lowercase", environment: "production", want: true},
		{name: "production mixed case", environment: "Production", want: true},
		{name: "development", environment: "development", want: false},
		{name: "empty", environment: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Environment: tt.environment}
			if got := cfg.IsProduction(); got != tt.want {
				t.Fatalf("IsProduction() with %q = %t, want %t", tt.environment, got, tt.want)
			}
		})
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
			return
		}
		_ = os.Unsetenv(key)
	})
}
