package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models tablebook.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret    string `yaml:"jwt_secret"`
		TokenTTLMins int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Payments struct {
		StripeSecretKey      string `yaml:"stripe_secret_key"`
		StripePublishableKey string `yaml:"stripe_publishable_key"`
		Currency             string `yaml:"currency"`
	} `yaml:"payments"`
	Notifications struct {
		SlackWebhookURL string `yaml:"slack_webhook_url"`
	} `yaml:"notifications"`
	Chat struct {
		OpenAIAPIKey string `yaml:"openai_api_key"`
		WorkflowID   string `yaml:"workflow_id"`
	} `yaml:"chat"`
	Client struct {
		RefreshIntervalSecs int `yaml:"refresh_interval_seconds"`
		CallTimeoutSecs     int `yaml:"call_timeout_seconds"`
	} `yaml:"client"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with tb init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if c.Auth.TokenTTLMins <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Payments.Currency == "" {
		return fmt.Errorf("config.payments.currency is required")
	}
	if len(c.Payments.Currency) != 3 {
		return fmt.Errorf("config.payments.currency must be a 3-letter ISO code")
	}
	if c.Client.RefreshIntervalSecs <= 0 {
		return fmt.Errorf("config.client.refresh_interval_seconds must be positive")
	}
	if c.Client.CallTimeoutSecs <= 0 {
		return fmt.Errorf("config.client.call_timeout_seconds must be positive")
	}
	return nil
}

// TokenTTL returns the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMins) * time.Minute
}

// RefreshInterval returns the reservation list polling interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Client.RefreshIntervalSecs) * time.Second
}

// CallTimeout returns the per-call deadline for client requests.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Client.CallTimeoutSecs) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tablebook.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(jwtSecret string) string {
	return fmt.Sprintf(defaultTemplate, jwtSecret)
}

// Default returns the default Config struct.
func Default(jwtSecret string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(jwtSecret)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  listen: 127.0.0.1:8787
  base_path: /v1

auth:
  jwt_secret: %s
  token_ttl_minutes: 30

payments:
  # stripe_secret_key: sk_test_...
  # stripe_publishable_key: pk_test_...
  currency: jpy

notifications:
  # slack_webhook_url: https://hooks.slack.com/services/...

chat:
  # openai_api_key: sk-...
  # workflow_id: wf_...

client:
  refresh_interval_seconds: 30
  call_timeout_seconds: 15
`
