// config.go - Configuration management for the node
package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Config represents the node configuration
type Config struct {
	// API
	ListenAddr string  `json:"listen_addr"`
	RateLimit  float64 `json:"rate_limit"`
	RateBurst  int     `json:"rate_burst"`

	// File paths
	LedgerPath string `json:"ledger_path"`
	WalletDir  string `json:"wallet_dir"`
	KeyDir     string `json:"key_dir"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Evaluation
	MaxConcurrency            int    `json:"max_concurrency"`
	MaxCycles                 uint64 `json:"max_cycles"`
	TimeoutSeconds            int    `json:"timeout_seconds"`
	CacheSize                 int    `json:"cache_size"`
	AllowUnauthenticatedNotes bool   `json:"allow_unauthenticated_notes"`

	// Security
	EnableProver bool   `json:"enable_prover"`
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`

	// Lets API clients create funded accounts and notes. Only for local networks.
	EnableProvisioning bool `json:"enable_provisioning"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8080",
		RateLimit:      20,
		RateBurst:      40,
		LedgerPath:     "data/ledger",
		WalletDir:      "wallets",
		KeyDir:         "keys",
		LogLevel:       "info",
		LogFile:        "noted.log",
		MaxConcurrency: 4,
		MaxCycles:      1 << 20,
		TimeoutSeconds: 30,
		CacheSize:      1024,
		EnableProver:   true,
		EnableAudit:    true,
		AuditLogPath:   "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open config file")
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, errors.Wrap(err, "failed to decode config file")
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, errors.Wrap(err, "failed to save default config")
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	file, err := os.Create(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must be set")
	}
	if c.LedgerPath == "" {
		return errors.New("ledger_path must be set")
	}
	if c.MaxConcurrency <= 0 {
		return errors.New("max_concurrency must be positive")
	}
	if c.MaxCycles == 0 {
		return errors.New("max_cycles must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache_size must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return errors.New("rate_burst must be positive when rate_limit is set")
	}
	if c.EnableAudit && c.AuditLogPath == "" {
		return errors.New("audit_log_path must be set when audit is enabled")
	}
	return nil
}

// Timeout is the request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Limit is the per client request rate, zero when unlimited.
func (c *Config) Limit() rate.Limit {
	return rate.Limit(c.RateLimit)
}

// auditFile returns the audit log path, empty when audit is disabled.
func (c *Config) auditFile() string {
	if !c.EnableAudit {
		return ""
	}
	return c.AuditLogPath
}
