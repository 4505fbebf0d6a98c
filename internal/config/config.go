package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root configuration for the agent runtime
type Config struct {
	DataDir       string         `mapstructure:"data_dir" json:"data_dir"`
	WorkspacePath string         `mapstructure:"workspace_path" json:"workspace_path"`
	Logging       LoggingConfig  `mapstructure:"logging" json:"logging"`
	Model         ModelConfig    `mapstructure:"model" json:"model"`
	Retry         RetryConfig    `mapstructure:"retry" json:"retry"`
	Sandbox       SandboxConfig  `mapstructure:"sandbox" json:"sandbox"`
	Gateway       GatewayConfig  `mapstructure:"gateway" json:"gateway"`
	Snapshot      SnapshotConfig `mapstructure:"snapshot" json:"snapshot"`
	History       HistoryConfig  `mapstructure:"history" json:"history"`
}

// LoggingConfig configures the zerolog sink
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	File    string `mapstructure:"file" json:"file"`
	Console bool   `mapstructure:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" json:"pretty"`
}

// ModelConfig selects the model provider for turns
type ModelConfig struct {
	Provider     string `mapstructure:"provider" json:"provider"` // openai | anthropic
	Model        string `mapstructure:"model" json:"model"`
	APIKey       string `mapstructure:"api_key" json:"api_key"`
	MaxTokens    int    `mapstructure:"max_tokens" json:"max_tokens"`
	Instructions string `mapstructure:"instructions" json:"instructions"`
}

// RetryConfig configures the backoff engine for model calls
type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay" json:"base_delay"`
	Factor     float64       `mapstructure:"factor" json:"factor"`
	MaxDelay   time.Duration `mapstructure:"max_delay" json:"max_delay"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed" json:"max_elapsed"`
}

// SandboxConfig configures the host exec layer
type SandboxConfig struct {
	AllowedPaths []string      `mapstructure:"allowed_paths" json:"allowed_paths"`
	DeniedPaths  []string      `mapstructure:"denied_paths" json:"denied_paths"`
	ExecTimeout  time.Duration `mapstructure:"exec_timeout" json:"exec_timeout"`
}

// GatewayConfig configures the websocket event gateway
type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" json:"host"`
	Port    int    `mapstructure:"port" json:"port"`
	Token   string `mapstructure:"token" json:"token"`
}

// SnapshotConfig configures scheduled workspace snapshots
type SnapshotConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Schedule string `mapstructure:"schedule" json:"schedule"` // cron expression
}

// HistoryConfig configures conversation history storage
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path" json:"db_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Model: ModelConfig{
			Provider:  "openai",
			MaxTokens: 4096,
		},
		Retry: RetryConfig{
			BaseDelay:  time.Second,
			Factor:     2.0,
			MaxDelay:   15 * time.Minute,
			MaxElapsed: 10 * time.Minute,
		},
		Sandbox: SandboxConfig{
			ExecTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8791,
		},
		Snapshot: SnapshotConfig{
			Schedule: "@every 10m",
		},
	}
}

// SnapshotRepoPath is where workspace snapshots are kept, outside the
// workspace itself.
func (c *Config) SnapshotRepoPath() string {
	return filepath.Join(c.DataDir, "snapshots.git")
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Model.Provider)
	}

	if c.Retry.Factor < 1.0 {
		return fmt.Errorf("retry factor must be >= 1.0, got %v", c.Retry.Factor)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.MaxElapsed < 0 {
		return fmt.Errorf("retry durations cannot be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay %v exceeds max delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Sandbox.ExecTimeout <= 0 {
		return fmt.Errorf("sandbox exec timeout must be positive")
	}

	return nil
}
