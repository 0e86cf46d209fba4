package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8008" {
		t.Errorf("expected :8008, got %s", cfg.Listen)
	}
	if cfg.Upstream.IdleTimeout != 120*time.Second {
		t.Errorf("expected 120s idle timeout, got %v", cfg.Upstream.IdleTimeout)
	}
	if cfg.Retention.Window != 7*24*time.Hour {
		t.Errorf("expected 7d retention window, got %v", cfg.Retention.Window)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "env-expanded.db")

	content := `
listen: ":9090"
db_path: "${TEST_DB_PATH}"
max_body_size: 1048576
upstream:
  connect_timeout: 5s
  idle_timeout: 60s
  total_timeout: 300s
retention:
  window: 48h
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.DBPath != "env-expanded.db" {
		t.Errorf("env var not expanded: got %s", cfg.DBPath)
	}
	if cfg.MaxBodySize != 1048576 {
		t.Errorf("expected 1048576, got %d", cfg.MaxBodySize)
	}
	if cfg.Upstream.ConnectTimeout != 5*time.Second {
		t.Errorf("expected 5s connect timeout, got %v", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Retention.Window != 48*time.Hour {
		t.Errorf("expected 48h retention window, got %v", cfg.Retention.Window)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
