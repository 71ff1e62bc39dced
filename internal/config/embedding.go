package config

import (
	"fmt"
	"time"
)

// EmbeddingConfig describes the image embedding generator. Dimensions is the
// system-wide vector dimension D; every stored vector must match it.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Validate checks that the embedding configuration has all required fields.
// The API key is not required here; the server runs without it and only the
// ingest CLI needs a working generator.
func (c *EmbeddingConfig) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}
	switch c.Provider {
	case "jina":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("embedding: model is required")
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including API key requirement.
// Use this when the generator will actually be called.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("embedding: api_key is required (set directly or via JINA_API_KEY)")
	}
	return nil
}
