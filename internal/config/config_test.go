package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MatchThreshold != 0.5 || cfg.FlagThreshold != 0.4 || cfg.BlockThreshold != 0.8 {
		t.Errorf("unexpected default thresholds: match=%v flag=%v block=%v",
			cfg.MatchThreshold, cfg.FlagThreshold, cfg.BlockThreshold)
	}
	if cfg.SandboxTTL != 24*time.Hour {
		t.Errorf("SandboxTTL = %v, want 24h", cfg.SandboxTTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MENAGERIE_PORT", "9999")
	t.Setenv("MENAGERIE_SANDBOX_TTL", "1h")
	t.Setenv("MENAGERIE_BLOCK_THRESHOLD", "0.9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.SandboxTTL != time.Hour {
		t.Errorf("SandboxTTL = %v, want 1h", cfg.SandboxTTL)
	}
	if cfg.BlockThreshold != 0.9 {
		t.Errorf("BlockThreshold = %v, want 0.9", cfg.BlockThreshold)
	}
}

func TestValidateRejectsIncoherentThresholds(t *testing.T) {
	t.Setenv("MENAGERIE_FLAG_THRESHOLD", "0.9")
	t.Setenv("MENAGERIE_BLOCK_THRESHOLD", "0.5")
	if _, err := Load(); err == nil {
		t.Error("expected error when flag threshold is above block threshold")
	}
}

func TestValidateRejectsBadTTL(t *testing.T) {
	t.Setenv("MENAGERIE_SANDBOX_TTL", "400h")
	if _, err := Load(); err == nil {
		t.Error("expected error for TTL above the maximum")
	}
}
