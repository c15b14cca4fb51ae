// Package config handles Hermes configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Hermes.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Sessions SessionsConfig `yaml:"sessions"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DaemonConfig defines hermesd settings.
type DaemonConfig struct {
	Socket    string `yaml:"socket"`
	Database  string `yaml:"database"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// RuntimeConfig defines how agent runtime processes are launched.
type RuntimeConfig struct {
	Command        string           `yaml:"command"`
	Model          string           `yaml:"model"`
	StartupTimeout time.Duration    `yaml:"startup_timeout"`
	Permissions    []PermissionRule `yaml:"permissions"`
}

// PermissionRule maps a tool-name pattern to an action. Patterns support a
// trailing "*" wildcard; a bare "*" matches every tool.
type PermissionRule struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"` // allow | ask | deny
}

// JobsConfig defines job scheduling limits.
type JobsConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Retention     time.Duration `yaml:"retention"`
}

// SessionsConfig defines session workspace and lifecycle settings.
type SessionsConfig struct {
	BaseDir        string        `yaml:"base_dir"`
	CredentialFile string        `yaml:"credential_file"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// AuthConfig defines pattern rules for driving interactive provider login.
type AuthConfig struct {
	URLPatterns    []string      `yaml:"url_patterns"`
	Prompts        []PromptRule  `yaml:"prompts"`
	SuccessPhrases []string      `yaml:"success_phrases"`
	FailurePhrases []string      `yaml:"failure_phrases"`
	Timeout        time.Duration `yaml:"timeout"`
}

// PromptRule sends keystrokes when runtime output contains a phrase.
type PromptRule struct {
	Contains string `yaml:"contains"`
	Send     string `yaml:"send"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/hermes")

	return &Config{
		Daemon: DaemonConfig{
			Socket:   "/tmp/hermes.sock",
			Database: filepath.Join(dataDir, "hermes.db"),
			LogFile:  filepath.Join(dataDir, "hermes.log"),
			LogLevel: "info",
		},
		Runtime: RuntimeConfig{
			Command:        "opencode",
			StartupTimeout: 30 * time.Second,
			Permissions: []PermissionRule{
				{Pattern: "webfetch", Action: "allow"},
				{Pattern: "read", Action: "allow"},
				{Pattern: "bash*", Action: "ask"},
				{Pattern: "edit", Action: "ask"},
				{Pattern: "*", Action: "allow"},
			},
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			Retention:     24 * time.Hour,
		},
		Sessions: SessionsConfig{
			BaseDir:        filepath.Join(dataDir, "sessions"),
			CredentialFile: filepath.Join(dataDir, "auth.json"),
			IdleTimeout:    3 * time.Hour,
			SweepInterval:  30 * time.Minute,
		},
		Auth: AuthConfig{
			URLPatterns: []string{
				`https://[^\s]*(?:device|authorize|oauth|login)[^\s]*`,
			},
			Prompts: []PromptRule{
				{Contains: "Select provider", Send: "\r"},
			},
			SuccessPhrases: []string{"Login successful", "Logged in"},
			FailurePhrases: []string{"Login failed", "authentication error"},
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads configuration from the default path or creates default config.
func Load() (*Config, error) {
	configPath := DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("HERMES_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/hermes/config.yaml")
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
}
