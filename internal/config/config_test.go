package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != "~/.filetoolkit" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Remote.Backend != "http" {
		t.Errorf("Remote.Backend = %q, want %q", cfg.Remote.Backend, "http")
	}
	if cfg.Cache.MaximumSizeBytes != 1<<30 {
		t.Errorf("Cache.MaximumSizeBytes = %d", cfg.Cache.MaximumSizeBytes)
	}
	if cfg.Upload.Workers != 4 {
		t.Errorf("Upload.Workers = %d, want 4", cfg.Upload.Workers)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filetoolkit.yaml")
	content := `
data_dir: /var/lib/filetoolkit
remote:
  backend: s3
  options:
    bucket: blobs
    region: eu-west-1
cache:
  maximum_size_bytes: 2048
  prune_interval: 5m
upload:
  workers: 8
  wait_for_remote: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/filetoolkit" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Remote.Backend != "s3" {
		t.Errorf("Remote.Backend = %q", cfg.Remote.Backend)
	}
	if cfg.Remote.Options["bucket"] != "blobs" {
		t.Errorf("Remote.Options[bucket] = %q", cfg.Remote.Options["bucket"])
	}
	if cfg.Cache.MaximumSizeBytes != 2048 {
		t.Errorf("Cache.MaximumSizeBytes = %d, want 2048", cfg.Cache.MaximumSizeBytes)
	}
	if cfg.Cache.PruneInterval != 5*time.Minute {
		t.Errorf("Cache.PruneInterval = %v, want 5m", cfg.Cache.PruneInterval)
	}
	if cfg.Upload.Workers != 8 {
		t.Errorf("Upload.Workers = %d, want 8", cfg.Upload.Workers)
	}
	if !cfg.Upload.WaitForRemote {
		t.Error("Upload.WaitForRemote = false, want true")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FILETOOL_REMOTE_BACKEND", "memory")
	t.Setenv("FILETOOL_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Backend != "memory" {
		t.Errorf("Remote.Backend = %q, want env override %q", cfg.Remote.Backend, "memory")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override %q", cfg.Log.Level, "debug")
	}
}
