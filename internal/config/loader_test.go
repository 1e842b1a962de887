package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaychat", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected default config to be written: %v", statErr)
	}
	if cfg.Addr != Default().Addr || cfg.SendBuffer != Default().SendBuffer {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9000\"\nsync_membership: false\npresence_retry_backoff: 1s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RELAYCHAT_ADDR", ":9100")
	t.Setenv("RELAYCHAT_SYNC_MEMBERSHIP", "true")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
	if !cfg.SyncMembership {
		t.Fatalf("expected sync_membership from env")
	}
	if cfg.PresenceRetryBackoff != time.Second {
		t.Fatalf("expected file backoff 1s, got %v", cfg.PresenceRetryBackoff)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000"})

	if cfg.Addr != ":7000" {
		t.Fatalf("expected addr override, got %q", cfg.Addr)
	}
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("database path should be untouched, got %q", cfg.DatabasePath)
	}
}
