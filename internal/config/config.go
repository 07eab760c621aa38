package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Policy    PolicyConfig
	Anthropic AnthropicConfig
	GitHub    GitHubConfig
	Worker    WorkerConfig
	Auth      AuthConfig
	Formatter FormatterConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/provisioner.db"`
}

// PolicyConfig locates the organizational policy ruleset.
type PolicyConfig struct {
	Path string `env:"POLICY_PATH" envDefault:"config/policies.yaml"`
}

// AnthropicConfig holds settings for the completion service.
type AnthropicConfig struct {
	APIKey  string        `env:"ANTHROPIC_API_KEY"`
	Model   string        `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-5"`
	BaseURL string        `env:"ANTHROPIC_BASE_URL"` // override for testing
	Timeout time.Duration `env:"ANTHROPIC_TIMEOUT" envDefault:"60s"`
}

// GitHubConfig holds settings for artifact publication.
type GitHubConfig struct {
	Token      string `env:"GITHUB_TOKEN"`
	Owner      string `env:"GITHUB_OWNER"`
	Repository string `env:"GITHUB_REPO"`
	BaseBranch string `env:"GITHUB_BASE_BRANCH" envDefault:"main"`
}

// WorkerConfig holds settings for the background worker pool.
type WorkerConfig struct {
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`
	QueueSize   int `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// FormatterConfig controls best-effort formatting of generated artifacts.
type FormatterConfig struct {
	Binary  string        `env:"TERRAFORM_BIN" envDefault:"terraform"`
	Timeout time.Duration `env:"TERRAFORM_FMT_TIMEOUT" envDefault:"10s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Policy); err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	if err := env.Parse(&cfg.Anthropic); err != nil {
		return nil, fmt.Errorf("parsing anthropic config: %w", err)
	}
	if err := env.Parse(&cfg.GitHub); err != nil {
		return nil, fmt.Errorf("parsing github config: %w", err)
	}
	if err := env.Parse(&cfg.Worker); err != nil {
		return nil, fmt.Errorf("parsing worker config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.Formatter); err != nil {
		return nil, fmt.Errorf("parsing formatter config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.GitHub.Owner == "" {
		return fmt.Errorf("GITHUB_OWNER is required")
	}
	if c.GitHub.Repository == "" {
		return fmt.Errorf("GITHUB_REPO is required")
	}
	if c.Policy.Path == "" {
		return fmt.Errorf("POLICY_PATH is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be at least 1")
	}
	return nil
}
