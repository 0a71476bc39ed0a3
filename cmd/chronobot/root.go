package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/chronobot/internal/app"
	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/logger"
)

const (
	defaultConfigPath = "./config.toml"
	defaultEnvPath    = "./.env"
)

var (
	configPath string
	envPath    string

	// appOptions are passed to every App the commands build.
	appOptions []app.Option
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chronobot",
	Short: "chronobot - scheduled broadcasts and message expiry for Telegram chats",
	Long: `chronobot sends recurring broadcasts to Telegram group chats and deletes
ephemeral messages after a configured delay. Tenants (chats) are described
by YAML documents; the engine keeps its state in SQLite.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", defaultEnvPath, "Path to .env file (ignored when missing)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantsCmd)
	rootCmd.AddCommand(tickCmd)
}

// loadConfig loads .env, then the TOML file.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvOptional(envPath); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadValidConfig loads the configuration and rejects it on any validation error.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
