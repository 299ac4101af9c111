package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thruflo/tasksync/internal/config"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Reward completed Todoist tasks with Habitica experience",
	Long: `tasksync polls Todoist for completed tasks and scores a matching todo
in Habitica for each one, so finishing real work earns experience and gold.

Credentials are read from tasksync.yaml, a .env file next to it, or the
environment. Progress is kept in a local SQLite file so that every
completion is rewarded exactly once, even across restarts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("tasksync version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config file named by --config, applies --log-level
// and configures the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
		cfg.LogLevel = logLevel
	}
	logging.SetLevel(cfg.Level())
	return cfg, nil
}

// databasePath resolves a relative database file against the directory of
// the config file.
func databasePath(cfg *config.Config) string {
	path := cfg.Sync.DatabaseFile
	if filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(filepath.Dir(configPath), path)
}

func openStore(cfg *config.Config) (*state.Store, error) {
	store, err := state.NewStore(databasePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open sync cache: %w", err)
	}
	return store, nil
}
