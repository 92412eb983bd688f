package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldstone-labs/deskmate/internal/config"
	"github.com/fieldstone-labs/deskmate/internal/daemon"
	"github.com/fieldstone-labs/deskmate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant service",
	Long: `Run the assistant service in the foreground. The service exposes the chat
API, connects to the configured tool service, and keeps conversation state
in memory until stopped.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	if err := d.Start(); err != nil {
		return err
	}

	waitErr := d.Wait()
	if stopErr := d.Stop(); stopErr != nil {
		zl := log.Zerolog()
		zl.Warn().Err(stopErr).Msg("shutdown incomplete")
	}
	return waitErr
}

// loadConfig loads, overrides, and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
