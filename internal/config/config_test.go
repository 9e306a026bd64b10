package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"server_url: https://cko.example.com/api\n" +
		"auth_token: secret\n" +
		"log_level: debug\n" +
		"session_limit: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "https://cko.example.com/api" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
	if cfg.AuthToken != "secret" || cfg.LogLevel != "debug" || cfg.SessionLimit != 10 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CKO_AUTH_TOKEN", "from-env")
	t.Setenv("CKO_SERVER_URL", "http://env.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthToken != "from-env" {
		t.Fatalf("auth token = %q", cfg.AuthToken)
	}
	if cfg.ServerURL != "http://env.example.com" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL == "" {
		t.Fatal("default server url should be set")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.SessionLimit != 50 {
		t.Fatalf("session limit = %d", cfg.SessionLimit)
	}
}

func TestFinalizeTrimsAndDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := finalize(AppConfig{ServerURL: "  http://x.test/api/  ", SessionLimit: -1})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.ServerURL != "http://x.test/api" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
	if cfg.SessionLimit != 50 {
		t.Fatalf("session limit = %d", cfg.SessionLimit)
	}
	if cfg.DBPath == "" || cfg.LogFile == "" {
		t.Fatalf("paths not defaulted: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Dir(cfg.DBPath)); err != nil {
		t.Fatalf("cache dir not created: %v", err)
	}
}

func TestFinalizeRejectsEmptyServer(t *testing.T) {
	if _, err := finalize(AppConfig{}); err == nil {
		t.Fatal("empty server url should be rejected")
	}
}
