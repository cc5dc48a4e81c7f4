package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"cee-expert/internal/expert"
	"cee-expert/internal/llm"
)

// defaultConfigFile is read when CEE_CONFIG is unset and the file exists.
const defaultConfigFile = "cee.toml"

// Config holds all configuration values
type Config struct {
	APIKey       string `toml:"-"`
	DatabaseURL  string `toml:"-"`
	ChatModel    string `toml:"model"`
	BaseURL      string `toml:"base_url"`
	ContextLimit int    `toml:"context_limit"` // 0 keeps every effective document
	EmbeddingDim int    `toml:"embedding_dim"`
	// ReferenceDate is the initial regulatory date, YYYY-MM-DD. Empty means today.
	ReferenceDate string `toml:"reference_date"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		ChatModel:    expert.DefaultModel,
		BaseURL:      llm.DefaultBaseURL,
		EmbeddingDim: 384,
	}
}

// LoadConfig loads configuration from the optional TOML file, then from
// environment variables, which win.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CEE_CONFIG")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.APIKey = os.Getenv(expert.APIKeyEnv)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, &expert.ConfigError{Err: expert.ErrMissingAPIKey}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("CEE_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("CEE_CONTEXT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CEE_CONTEXT_LIMIT %q: %w", v, err)
		}
		cfg.ContextLimit = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ChatModel == "" {
		return errors.New("model must not be empty")
	}
	if c.ContextLimit < 0 {
		return fmt.Errorf("context_limit must be >= 0, got %d", c.ContextLimit)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be > 0, got %d", c.EmbeddingDim)
	}
	if c.ReferenceDate != "" {
		if _, err := parseDate(c.ReferenceDate); err != nil {
			return fmt.Errorf("invalid reference_date: %w", err)
		}
	}
	return nil
}
