package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Ledger   LedgerConfig   `json:"ledger"`
	Anchor   AnchorConfig   `json:"anchor"`
	Cache    CacheConfig    `json:"cache"`
	Throttle ThrottleConfig `json:"throttle"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// LedgerConfig points at the Golem Base node holding the memories.
type LedgerConfig struct {
	Endpoint       string `json:"endpoint"`
	Owner          string `json:"owner"`
	TTLBlocks      uint64 `json:"ttl_blocks"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AnchorConfig configures optional NEAR integrity anchoring.
type AnchorConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	AccountID string `json:"account_id"`
}

// CacheConfig locates the local handle cache database.
type CacheConfig struct {
	Path string `json:"path"`
}

// ThrottleConfig sets the minimum spacing between outbound ledger calls.
type ThrottleConfig struct {
	IntervalSeconds float64 `json:"interval_seconds"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
