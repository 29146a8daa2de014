package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8000" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.DownloadWorkers != 8 {
		t.Fatalf("unexpected worker count: %d", cfg.DownloadWorkers)
	}
	if !cfg.DownloadVisAssets {
		t.Fatalf("expected downloads enabled by default")
	}
	if cfg.BackupRetention != 24*time.Hour {
		t.Fatalf("unexpected retention: %v", cfg.BackupRetention)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abr.yaml")
	body := "http_addr: \":9999\"\nmedia_dir: /tmp/media-from-file\ndownload_workers: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envMediaDir, "/tmp/media-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("file value not applied: %s", cfg.HTTPAddr)
	}
	if cfg.MediaDir != "/tmp/media-from-env" {
		t.Fatalf("env should win over file, got %s", cfg.MediaDir)
	}
	if cfg.DownloadWorkers != 2 {
		t.Fatalf("unexpected worker count: %d", cfg.DownloadWorkers)
	}
}

func TestDisableDownloadsFromEnv(t *testing.T) {
	t.Setenv(envDownloadAssets, "false")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DownloadVisAssets {
		t.Fatalf("expected downloads disabled")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{MediaDir: "media", SchemaDir: "schemas", StateSchema: "s.json"}
	if got := cfg.VisAssetDir(); got != filepath.Join("media", "visassets") {
		t.Fatalf("unexpected visasset dir: %s", got)
	}
	if got := cfg.StateSchemaPath(); got != filepath.Join("schemas", "s.json") {
		t.Fatalf("unexpected schema path: %s", got)
	}
}

func TestBadFileSurfacesError(t *testing.T) {
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
