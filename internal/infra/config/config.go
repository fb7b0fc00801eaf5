// Package config provides nrv configuration: defaults, an optional YAML
// file and NRV_* environment overrides, applied in that order. Every field
// has a default so the binary runs locally without any setup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for nrv.
type Config struct {
	// Orchestrator client
	OrchURL string `yaml:"orch_url"` // NRV_ORCH_URL, default "http://127.0.0.1:8080"
	APIKey  string `yaml:"api_key"`  // NRV_API_KEY, default ""

	// Patching
	Journal      string `yaml:"journal"`       // NRV_JOURNAL, default "" (no journal)
	BackupSuffix string `yaml:"backup_suffix"` // NRV_BACKUP_SUFFIX, default ".orig"
	Guard        Guard  `yaml:"guard"`

	// Logging
	LogLevel  string `yaml:"log_level"`  // NRV_LOG_LEVEL, default "info"
	LogFormat string `yaml:"log_format"` // NRV_LOG_FORMAT, default "text"

	// Development orchestrator (nrv serve-dev)
	DevAddr       string `yaml:"dev_addr"`         // NRV_DEV_ADDR, default "127.0.0.1:8080"
	JWTSecret     string `yaml:"jwt_secret"`       // NRV_JWT_SECRET, default ""
	TokenTTL      string `yaml:"token_ttl"`        // NRV_TOKEN_TTL, default "" (1h)
	DevAPIKeyHash string `yaml:"dev_api_key_hash"` // NRV_DEV_API_KEY_HASH, default ""
	DevSnapshot   string `yaml:"dev_snapshot"`     // NRV_DEV_SNAPSHOT, default "" (built-in)
}

// Guard restricts the paths a plan or tool call may write.
type Guard struct {
	Root  string   `yaml:"root"`
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

const (
	envKeyOrchURL       = "NRV_ORCH_URL"
	envKeyAPIKey        = "NRV_API_KEY"
	envKeyJournal       = "NRV_JOURNAL"
	envKeyBackupSuffix  = "NRV_BACKUP_SUFFIX"
	envKeyLogLevel      = "NRV_LOG_LEVEL"
	envKeyLogFormat     = "NRV_LOG_FORMAT"
	envKeyDevAddr       = "NRV_DEV_ADDR"
	envKeyJWTSecret     = "NRV_JWT_SECRET"
	envKeyTokenTTL      = "NRV_TOKEN_TTL"
	envKeyDevAPIKeyHash = "NRV_DEV_API_KEY_HASH"
	envKeyDevSnapshot   = "NRV_DEV_SNAPSHOT"
)

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		OrchURL:      "http://127.0.0.1:8080",
		BackupSuffix: ".orig",
		LogLevel:     "info",
		LogFormat:    "text",
		DevAddr:      "127.0.0.1:8080",
	}
}

// Load reads configuration from environment variables, applying defaults for missing values.
func Load() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies env overrides.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.OrchURL = envOr(envKeyOrchURL, c.OrchURL)
	c.APIKey = envOr(envKeyAPIKey, c.APIKey)
	c.Journal = envOr(envKeyJournal, c.Journal)
	c.BackupSuffix = envOr(envKeyBackupSuffix, c.BackupSuffix)
	c.LogLevel = envOr(envKeyLogLevel, c.LogLevel)
	c.LogFormat = envOr(envKeyLogFormat, c.LogFormat)
	c.DevAddr = envOr(envKeyDevAddr, c.DevAddr)
	c.JWTSecret = envOr(envKeyJWTSecret, c.JWTSecret)
	c.TokenTTL = envOr(envKeyTokenTTL, c.TokenTTL)
	c.DevAPIKeyHash = envOr(envKeyDevAPIKeyHash, c.DevAPIKeyHash)
	c.DevSnapshot = envOr(envKeyDevSnapshot, c.DevSnapshot)
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
