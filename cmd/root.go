// Package cmd implements the webstats command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/config"
	"github.com/withObsrvr/webstats/internal/logging"
)

// defaultConfigFile is used when neither --config nor CONFIG_PATH is set and
// the file exists.
const defaultConfigFile = "config.yaml"

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "webstats",
		Short: "Incremental GoatCounter to DuckDB ingestion",
		Long: `webstats pulls page-view statistics from GoatCounter into a local DuckDB
file and provides small tools to export, query and serve that data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CONFIG_PATH or ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newIngestCommand(),
		newSnapshotCommand(),
		newExportCommand(),
		newQueryCommand(),
		newServeCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "webstats %s\n", Version)
			},
		},
	)
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// app bundles what every subcommand needs
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// loadApp loads and validates the configuration and builds the logger.
func loadApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.Service.Name))
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if path := config.GetConfigPath(""); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}
