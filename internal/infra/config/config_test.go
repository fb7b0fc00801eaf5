// No t.Parallel(): env vars are process-global.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

var allKeys = []string{
	envKeyOrchURL, envKeyAPIKey, envKeyJournal, envKeyBackupSuffix,
	envKeyLogLevel, envKeyLogFormat, envKeyDevAddr, envKeyJWTSecret,
	envKeyTokenTTL, envKeyDevAPIKeyHash, envKeyDevSnapshot,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.OrchURL != "http://127.0.0.1:8080" {
		t.Errorf("expected default OrchURL, got %q", cfg.OrchURL)
	}
	if cfg.BackupSuffix != ".orig" {
		t.Errorf("expected BackupSuffix '.orig', got %q", cfg.BackupSuffix)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("expected info/text logging, got %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Journal != "" || cfg.APIKey != "" {
		t.Errorf("expected empty journal and api key, got %q %q", cfg.Journal, cfg.APIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NRV_ORCH_URL", "http://orch.internal:9000")
	t.Setenv("NRV_API_KEY", "k")
	t.Setenv("NRV_JOURNAL", "/tmp/j.db")
	t.Setenv("NRV_LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.OrchURL != "http://orch.internal:9000" {
		t.Errorf("expected custom OrchURL, got %q", cfg.OrchURL)
	}
	if cfg.APIKey != "k" || cfg.Journal != "/tmp/j.db" || cfg.LogLevel != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nrv.yaml")
	doc := `orch_url: http://from-file:1
backup_suffix: .bak
guard:
  root: /work
  allow: ["src/**"]
  deny: ["**/*.pem"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NRV_ORCH_URL", "http://from-env:2")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.OrchURL != "http://from-env:2" {
		t.Errorf("env should win over file, got %q", cfg.OrchURL)
	}
	if cfg.BackupSuffix != ".bak" {
		t.Errorf("BackupSuffix = %q", cfg.BackupSuffix)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unset keys keep defaults, LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Guard.Root != "/work" || len(cfg.Guard.Allow) != 1 || cfg.Guard.Deny[0] != "**/*.pem" {
		t.Errorf("Guard = %+v", cfg.Guard)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("guard: ["), 0o644) //nolint:errcheck
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("NRV_TEST_ENV_OR", "")
	if got := envOr("NRV_TEST_ENV_OR", "fallback"); got != "fallback" {
		t.Errorf("envOr unset = %q", got)
	}
	t.Setenv("NRV_TEST_ENV_OR", "set")
	if got := envOr("NRV_TEST_ENV_OR", "fallback"); got != "set" {
		t.Errorf("envOr set = %q", got)
	}
}
