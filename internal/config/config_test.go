package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("LEGIOND_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Legion.MaxMinions != 20 {
		t.Errorf("expected default max_minions 20, got %d", cfg.Legion.MaxMinions)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected default nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected default poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legiond.yaml")
	content := `
legion:
  name: ops
  max_minions: 5
web:
  enabled: true
  port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEGIOND_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Legion.Name != "ops" {
		t.Errorf("expected legion name 'ops', got %q", cfg.Legion.Name)
	}
	if cfg.Legion.MaxMinions != 5 {
		t.Errorf("expected max_minions 5, got %d", cfg.Legion.MaxMinions)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	// Unset sections keep defaults
	if cfg.Store.Path != "data/legiond.db" {
		t.Errorf("expected default store path, got %q", cfg.Store.Path)
	}
}

func TestEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legiond.yaml")
	t.Setenv("TEST_STORE_PATH", filepath.Join(dir, "custom.db"))
	content := "store:\n  path: ${TEST_STORE_PATH}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEGIOND_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != filepath.Join(dir, "custom.db") {
		t.Errorf("expected expanded store path, got %q", cfg.Store.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEGIOND_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LEGIOND_WEB_PORT", "7070")
	t.Setenv("LEGIOND_MAX_MINIONS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Web.Port != 7070 {
		t.Errorf("expected web port override 7070, got %d", cfg.Web.Port)
	}
	if cfg.Legion.MaxMinions != 3 {
		t.Errorf("expected max_minions override 3, got %d", cfg.Legion.MaxMinions)
	}
}
