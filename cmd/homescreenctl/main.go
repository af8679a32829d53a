// Command homescreenctl runs maintenance tasks against the homescreen apps database:
// schema migrations, account creation and magic link issuing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/disciple-tools/homescreen-apps/internal/boot"
	"github.com/disciple-tools/homescreen-apps/internal/config"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/db"
	"github.com/disciple-tools/homescreen-apps/internal/logger"
	"github.com/disciple-tools/homescreen-apps/internal/version"
)

var (
	configPath string
	timeout    time.Duration
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:           "homescreenctl",
	Short:         "Maintain the homescreen apps database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CONFIG_PATH or config.toml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, logger.L, nil
}

// withStore opens the database for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, rc *boot.RuntimeConfig, log *slog.Logger, store crm.Store) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	rc, err := boot.ProvideRuntimeConfig(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	return fn(ctx, rc, log, crm.NewPGStore(log, pool))
}
