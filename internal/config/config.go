package config

import (
	"time"
)

// Config represents the main deskmate configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Language model service
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Tool registry (MCP endpoint)
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Category to destination routing
	Routing map[string]DestinationConfig `json:"routing" mapstructure:"routing"`

	// Prompt library
	Prompts PromptsConfig `json:"prompts" mapstructure:"prompts"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// ModelConfig holds language model service configuration
type ModelConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // anthropic, openai
	Name           string        `json:"name" mapstructure:"name"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// ToolsConfig holds tool registry configuration
type ToolsConfig struct {
	Transport     string        `json:"transport" mapstructure:"transport"` // stdio, http
	Command       string        `json:"command" mapstructure:"command"`
	Args          []string      `json:"args" mapstructure:"args"`
	URL           string        `json:"url" mapstructure:"url"`
	CallTimeout   time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`

	// Tool names that force a fresh session after a successful call.
	// Empty by default: irreversible actions do not end the conversation
	// unless the operator opts in.
	Invalidating []string `json:"invalidating" mapstructure:"invalidating"`

	// Tool names whose results describe a created ticket
	ArtifactTools []string `json:"artifact_tools" mapstructure:"artifact_tools"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`

	// Optional cron spec for a background sweep ("" disables it; eviction
	// on access is the guarantee either way)
	SweepEvery string `json:"sweep_every" mapstructure:"sweep_every"`
}

// DestinationConfig maps a request category to a backend container
type DestinationConfig struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
}

// PromptsConfig holds prompt library configuration
type PromptsConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Model: ModelConfig{
			Provider:       "anthropic",
			Name:           "claude-sonnet-4-20250514",
			MaxTokens:      4096,
			RequestTimeout: 60 * time.Second,
		},
		Tools: ToolsConfig{
			Transport:     "stdio",
			CallTimeout:   30 * time.Second,
			MaxIterations: 10,
			ArtifactTools: []string{"create_ticket", "create_trello_card"},
		},
		Session: SessionConfig{
			IdleTimeout: 60 * time.Minute,
		},
		Prompts: PromptsConfig{
			Dir: "prompts",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    false,
			Redaction: true,
		},
	}
}
