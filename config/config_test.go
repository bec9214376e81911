package config

import (
	"os"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	path := writeTempConfig(t, `
server:
  port: 9090
  rate_limit: 30
api:
  base_url: "https://api.mr3x.test"
  timeout_seconds: 10
signing:
  redirect_delay_ms: 500
  verify_page_url: "https://portal.mr3x.test/verify"
  high_accuracy: true
verify:
  max_pdf_bytes: 1024
archive:
  enabled: true
  endpoint: "localhost:9000"
  access_key: "minioadmin"
  secret_key: "minioadmin"
  bucket: "verifications"
  expire_days: 14
session:
  secret: "page-secret"
  expire_hours: 4
  max_sessions: 50
cache:
  ttl_seconds: 5
  max_entries: 10
log:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.API.BaseURL != "https://api.mr3x.test" {
		t.Errorf("Expected base_url https://api.mr3x.test, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout() != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", cfg.API.Timeout())
	}
	if cfg.Signing.RedirectDelay() != 500*time.Millisecond {
		t.Errorf("Expected redirect delay 500ms, got %v", cfg.Signing.RedirectDelay())
	}
	if !cfg.Signing.HighAccuracy {
		t.Error("Expected high_accuracy true")
	}
	if cfg.Verify.MaxPDFBytes != 1024 {
		t.Errorf("Expected max_pdf_bytes 1024, got %d", cfg.Verify.MaxPDFBytes)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "verifications" {
		t.Errorf("Unexpected archive config: %+v", cfg.Archive)
	}
	if cfg.Session.MaxSessions != 50 {
		t.Errorf("Expected max_sessions 50, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Cache.TTL() != 5*time.Second {
		t.Errorf("Expected cache ttl 5s, got %v", cfg.Cache.TTL())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if GlobalConfig != cfg {
		t.Error("Expected GlobalConfig to be set")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	path := writeTempConfig(t, `
session:
  secret: "s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Signing.RedirectDelay() != 2*time.Second {
		t.Errorf("Expected default redirect delay 2s, got %v", cfg.Signing.RedirectDelay())
	}
	if cfg.Signing.VerifyPageURL != "/verify" {
		t.Errorf("Expected default verify page /verify, got %s", cfg.Signing.VerifyPageURL)
	}
	if cfg.Verify.MaxPDFBytes != 20<<20 {
		t.Errorf("Expected default max_pdf_bytes, got %d", cfg.Verify.MaxPDFBytes)
	}
	if cfg.Archive.Enabled {
		t.Error("Expected archive disabled by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format text, got %s", cfg.Log.Format)
	}
}

func TestLoadAPIURLFromEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://env.mr3x.test/api")

	path := writeTempConfig(t, `
api:
  base_url: "https://file.mr3x.test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.API.BaseURL != "https://env.mr3x.test/api" {
		t.Errorf("Expected env base url, got %s", cfg.API.BaseURL)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	cfg := Default()
	if cfg.API.BaseURL == "" {
		t.Error("Expected a default API base url")
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("Expected default max_entries 500, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "invalid: yaml: content:")

	_, err := Load(path)
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}
