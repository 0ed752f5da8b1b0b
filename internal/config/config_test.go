package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("Expected default server URL, got %s", cfg.ServerURL)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("Expected 15m interval, got %s", cfg.SyncInterval)
	}
	if cfg.ConflictPolicy != PolicyManual {
		t.Errorf("Expected manual policy, got %s", cfg.ConflictPolicy)
	}
	if cfg.ServerTimeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %s", cfg.ServerTimeout)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Errorf("Expected data dir under config dir, got %s", cfg.DataDir)
	}
}

func TestLoad_WritesDefaultFileOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("Expected config.yaml created, got %v", err)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := `
owner: user-42
server:
  url: https://api.example.com
  token: tok-abc
  timeout: 30s
sync:
  interval: 5m
  conflict_policy: lww
log_level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Owner != "user-42" {
		t.Errorf("Expected owner user-42, got %s", cfg.Owner)
	}
	if cfg.ServerURL != "https://api.example.com" {
		t.Errorf("Expected configured server URL, got %s", cfg.ServerURL)
	}
	if cfg.ServerToken != "tok-abc" {
		t.Errorf("Expected token, got %s", cfg.ServerToken)
	}
	if cfg.ServerTimeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", cfg.ServerTimeout)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("Expected 5m interval, got %s", cfg.SyncInterval)
	}
	if cfg.ConflictPolicy != PolicyLWW {
		t.Errorf("Expected lww policy, got %s", cfg.ConflictPolicy)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug log level, got %s", cfg.LogLevel)
	}
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	content := `
sync:
  conflict_policy: newest-wins
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Expected error for unknown conflict policy")
	}
}
