// Package config handles Otron configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/otron/config.yaml, /etc/otron/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "otron", "config.yaml"))
	}

	paths = append(paths, "/etc/otron/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Otron configuration.
type Config struct {
	Listen      ListenConfig    `yaml:"listen"`
	Redis       RedisConfig     `yaml:"redis"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
	Slack       SlackConfig     `yaml:"slack"`
	Linear      LinearConfig    `yaml:"linear"`
	GitHub      GitHubConfig    `yaml:"github"`
	Agent       AgentConfig     `yaml:"agent"`
	DataDir     string          `yaml:"data_dir"`
	GuidanceDir string          `yaml:"guidance_dir"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // "text" or "json"
}

// ListenConfig defines the webhook/admin HTTP server binding.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8090
}

// RedisConfig defines the durable session store connection.
type RedisConfig struct {
	Address  string `yaml:"address"` // host:port
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Configured reports whether the Anthropic provider is usable.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// SlackConfig defines Slack Web API and Socket Mode credentials.
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`      // xoxb- token for Web API calls
	AppToken      string `yaml:"app_token"`      // xapp- token for Socket Mode
	SigningSecret string `yaml:"signing_secret"` // webhook signature verification
}

// Configured reports whether the Slack client can be constructed.
func (c SlackConfig) Configured() bool { return c.BotToken != "" }

// SocketModeEnabled reports whether the Socket Mode event stream can run.
func (c SlackConfig) SocketModeEnabled() bool { return c.AppToken != "" }

// LinearConfig defines Linear API credentials.
type LinearConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Configured reports whether the Linear client can be constructed.
func (c LinearConfig) Configured() bool { return c.APIKey != "" }

// GitHubConfig defines GitHub App credentials. Otron authenticates as a
// GitHub App and mints short-lived installation tokens on demand.
type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	InstallationID int64  `yaml:"installation_id"` // default installation for tools
}

// Configured reports whether GitHub App auth can be constructed.
func (c GitHubConfig) Configured() bool { return c.AppID != 0 && c.PrivateKeyPath != "" }

// AgentConfig tunes the session lifecycle manager.
type AgentConfig struct {
	// MaxSteps caps model turns within one model-call phase (default 30).
	MaxSteps int `yaml:"max_steps"`
	// SessionTTLMinutes is the active-session expiry (default 60).
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8090
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 30
	}
	if cfg.Agent.SessionTTLMinutes == 0 {
		cfg.Agent.SessionTTLMinutes = 60
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// Validate checks for configuration errors that should fail startup
// rather than surface later as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if !c.Anthropic.Configured() {
		return fmt.Errorf("config: anthropic.api_key is required")
	}
	if c.GitHub.Configured() {
		if _, err := os.Stat(c.GitHub.PrivateKeyPath); err != nil {
			return fmt.Errorf("config: github.private_key_path: %w", err)
		}
	}
	return nil
}
