package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runledger configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Rules   []RuleConfig  `yaml:"rules"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// RuleConfig is one alert rule evaluated against every ingested episode.
// Condition is a CEL expression over the episode.* variables.
type RuleConfig struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Severity  string `yaml:"severity"` // info, warning, critical
	Message   string `yaml:"message"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7311,
			LogLevel: "info",
			CORS:     false,
		},
		Storage: StorageConfig{
			Path: "./runledger.db",
		},
	}
}

const defaultConfigTemplate = `# runledger configuration

server:
  port: 7311
  log_level: info
  cors: false

storage:
  path: ./runledger.db

# Alert channels. Leave empty to disable delivery.
alerts:
  slack:
    webhook_url: ""
    channel: ""
  webhook:
    url: ""
    secret: ""

# Alert rules evaluated against every ingested episode.
# Conditions are CEL expressions over episode.* variables:
#   episode.agent_id, episode.status, episode.step_count,
#   episode.total_tokens, episode.total_cost_usd,
#   episode.total_duration_ms, episode.tools_used
rules:
  - name: expensive-episode
    condition: "episode.total_cost_usd > 1.0"
    severity: warning
    message: "Episode cost exceeded $1"
  - name: failed-episode
    condition: "episode.status == 'failure'"
    severity: info
    message: "Agent episode ended in failure"
`

// GenerateDefault writes a starter config file to path.
func GenerateDefault(path string) error {
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// parse unmarshals YAML on top of the defaults so omitted sections keep
// their default values.
func parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Storage.Path == "" {
		return nil, fmt.Errorf("storage.path must not be empty")
	}
	return cfg, nil
}
