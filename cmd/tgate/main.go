// tgate is a webhook gateway between the Telegram Bot API and the
// application services behind it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdelaire/tgate/internal/config"
	"github.com/jdelaire/tgate/internal/keychain"
	"github.com/jdelaire/tgate/internal/logging"
)

const serviceName = "tgate"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "tgate",
	Short: "Telegram webhook gateway",
	Long: `tgate receives Telegram updates, authenticates and throttles them,
routes each one to a downstream service and sends the formatted reply.

Configuration comes from an optional YAML file (--config), environment
variables (TELEGRAM_BOT_TOKEN, REDIS_HOST, ...) and the OS keychain.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(secretCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and validates the configuration and builds the
// process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, os.LookupEnv, keychain.Get)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With("service", serviceName), nil
}
