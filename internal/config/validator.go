package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the full configuration for startup-blocking problems
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		return err
	}
	if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
		return err
	}
	if cfg.Model.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if cfg.Model.MaxTokens <= 0 {
		return fmt.Errorf("model max_tokens must be positive")
	}

	if err := v.ValidateToolTransport(cfg.Tools); err != nil {
		return err
	}
	if cfg.Tools.MaxIterations <= 0 {
		return fmt.Errorf("tools max_iterations must be positive")
	}

	if cfg.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle_timeout must be positive")
	}

	for category, dest := range cfg.Routing {
		if dest.ID == "" {
			return fmt.Errorf("routing category %q has empty destination id", category)
		}
		if dest.Name == "" {
			return fmt.Errorf("routing category %q has empty destination name", category)
		}
	}

	return nil
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	default:
		return fmt.Errorf("unsupported model provider: %q", provider)
	}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateToolTransport validates the tool registry transport settings
func (v *Validator) ValidateToolTransport(tools ToolsConfig) error {
	switch tools.Transport {
	case "stdio":
		if tools.Command == "" {
			return fmt.Errorf("tools command is required for stdio transport")
		}
	case "http":
		if tools.URL == "" {
			return fmt.Errorf("tools url is required for http transport")
		}
		if !strings.HasPrefix(tools.URL, "http://") && !strings.HasPrefix(tools.URL, "https://") {
			return fmt.Errorf("tools url must be an http(s) URL")
		}
	default:
		return fmt.Errorf("unsupported tools transport: %q", tools.Transport)
	}
	return nil
}
