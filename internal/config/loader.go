package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".deskmate", "deskmate.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Environment overrides, e.g. DESKMATE_MODEL_API_KEY
	v.SetEnvPrefix("DESKMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// No config file: defaults plus environment
		l.applyEnv(v, cfg)
		return cfg, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyEnv(v, cfg)

	return cfg, nil
}

// applyEnv applies environment-only values that viper's Unmarshal misses
// when the key is absent from the config file.
func (l *Loader) applyEnv(v *viper.Viper, cfg *Config) {
	if key := v.GetString("model.api_key"); key != "" {
		cfg.Model.APIKey = key
	}
	if level := v.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
}
