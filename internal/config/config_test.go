package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Server.Port)
	}

	if cfg.Volume.BlockSize != 524288 {
		t.Errorf("expected block size 524288, got %d", cfg.Volume.BlockSize)
	}

	if cfg.Volume.Criteria != "" {
		t.Errorf("expected empty default criteria, got %q", cfg.Volume.Criteria)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path.json")
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got %v", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("expected default port 8088, got %d", cfg.Server.Port)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Volume.Criteria = "size=1M/name=*.xml"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", loaded.Server.Port)
	}
	if loaded.Auth.JWTSecret != "test-secret" {
		t.Errorf("expected jwt secret 'test-secret', got %s", loaded.Auth.JWTSecret)
	}
	if loaded.Volume.Criteria != "size=1M/name=*.xml" {
		t.Errorf("expected criteria round-trip, got %s", loaded.Volume.Criteria)
	}
}

func TestSavePreservesDefaultsNotOverridden(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Volume.BlockSize = 65536

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if loaded.Volume.BlockSize != 65536 {
		t.Errorf("expected block size 65536, got %d", loaded.Volume.BlockSize)
	}
	if loaded.Catalog.Path != cfg.Catalog.Path {
		t.Errorf("expected catalog path to round-trip, got %s", loaded.Catalog.Path)
	}
}
