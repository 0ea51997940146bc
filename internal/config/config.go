// Package config handles loading and managing draftpilot configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// ProviderConfig holds mailbox provider tuning.
type ProviderConfig struct {
	RateLimitQPS int    `toml:"rate_limit_qps"` // Gmail API rate limit (default: 5)
	Concurrency  int    `toml:"concurrency"`    // Parallel detail fetches (default: 5)
	ListQuery    string `toml:"list_query"`     // Override the default triage window
	MaxResults   int    `toml:"max_results"`    // Messages per inbox view (default: 20)
}

// PolicyConfig holds the autosend readiness thresholds.
type PolicyConfig struct {
	MinSamples       int64   `toml:"min_samples"`        // Minimum reviewed drafts (default: 20)
	MinAvgSimilarity float64 `toml:"min_avg_similarity"` // Minimum rolling average, 0..1 (default: 0.95)
}

// AutosendConfig gates autonomous replies during scheduled sweeps.
type AutosendConfig struct {
	Enabled bool `toml:"enabled"` // Off by default; readiness alone never sends
}

// GeneratorConfig selects and configures the draft generator backend.
type GeneratorConfig struct {
	Backend string `toml:"backend"` // "template" (default) or "http"
	URL     string `toml:"url"`     // HTTP backend base URL
	Model   string `toml:"model"`   // Model name passed to the HTTP backend
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	APIKey          string   `toml:"api_key"`          // API authentication key
	BindAddr        string   `toml:"bind_addr"`        // Bind address (default: 127.0.0.1)
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentialed CORS requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// ValidateSecure refuses a non-loopback bind without an API key.
func (c ServerConfig) ValidateSecure() error {
	switch c.BindAddr {
	case "", "127.0.0.1", "localhost", "::1":
		return nil
	}
	if c.APIKey == "" {
		return fmt.Errorf("refusing to bind %s without [server] api_key set", c.BindAddr)
	}
	return nil
}

// AccountSchedule defines the sweep schedule for a single account.
type AccountSchedule struct {
	Email    string `toml:"email"`    // Mailbox address
	Schedule string `toml:"schedule"` // Cron expression (e.g., "*/15 * * * *")
	Enabled  bool   `toml:"enabled"`  // Whether scheduled sweeps are active
}

// Config represents the draftpilot configuration.
type Config struct {
	Data      DataConfig        `toml:"data"`
	OAuth     OAuthConfig       `toml:"oauth"`
	Provider  ProviderConfig    `toml:"provider"`
	Policy    PolicyConfig      `toml:"policy"`
	Autosend  AutosendConfig    `toml:"autosend"`
	Generator GeneratorConfig   `toml:"generator"`
	Server    ServerConfig      `toml:"server"`
	Accounts  []AccountSchedule `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default draftpilot home directory.
// Respects the DRAFTPILOT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("DRAFTPILOT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".draftpilot"
	}
	return filepath.Join(home, ".draftpilot")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.draftpilot/config.toml).
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Provider: ProviderConfig{
			RateLimitQPS: 5,
			Concurrency:  5,
			MaxResults:   20,
		},
		Policy: PolicyConfig{
			MinSamples:       20,
			MinAvgSimilarity: 0.95,
		},
		Generator: GeneratorConfig{
			Backend: "template",
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Accounts: []AccountSchedule{},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// DatabasePath returns the path to the SQLite learning ledger.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "draftpilot.db")
}

// AccountsPath returns the path to the saved account registry.
func (c *Config) AccountsPath() string {
	return filepath.Join(c.Data.DataDir, "accounts.json")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// ScheduledAccounts returns accounts with sweep scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountSchedule {
	var scheduled []AccountSchedule
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// GetAccountSchedule returns the schedule for a specific account email.
// Returns nil if the account is not configured for scheduling.
func (c *Config) GetAccountSchedule(email string) *AccountSchedule {
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return &c.Accounts[i]
		}
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
