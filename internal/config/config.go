package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	// Storage selects the repository backend: "postgres" (default) or
	// "memory" for local development.
	Storage string `yaml:"storage"`
	Server  struct {
		Port        string   `yaml:"port"`
		JWTSecret   string   `yaml:"jwt_secret"`
		CORSOrigins []string `yaml:"cors_origins"`
		// Credentials for the first admin account, created on startup when no
		// account exists yet.
		AdminUsername string `yaml:"admin_username"`
		AdminPassword string `yaml:"admin_password"`
	} `yaml:"server"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`
	Quiz struct {
		CoolDownDays   int     `yaml:"cool_down_days"`
		AgeFactor      float64 `yaml:"age_factor"`
		UsagePenalty   float64 `yaml:"usage_penalty"`
		RetryAttempts  int     `yaml:"retry_attempts"`
		BackoffSeconds int     `yaml:"backoff_seconds"`
	} `yaml:"quiz"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage == "" {
		c.Storage = "postgres"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Quiz.CoolDownDays == 0 {
		c.Quiz.CoolDownDays = 2
	}
	if c.Quiz.AgeFactor == 0 {
		c.Quiz.AgeFactor = 1.0
	}
	if c.Quiz.UsagePenalty == 0 {
		c.Quiz.UsagePenalty = 0.1
	}
	if c.Quiz.RetryAttempts == 0 {
		c.Quiz.RetryAttempts = 3
	}
	if c.Quiz.BackoffSeconds == 0 {
		c.Quiz.BackoffSeconds = 2
	}
}

// CoolDown returns the category cool-down window as a duration.
func (c *Config) CoolDown() time.Duration {
	return time.Duration(c.Quiz.CoolDownDays) * 24 * time.Hour
}
