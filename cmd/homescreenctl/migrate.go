package main

import (
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	schema "github.com/disciple-tools/homescreen-apps/db"
	"github.com/disciple-tools/homescreen-apps/internal/db"
)

// migrateCmd applies or rolls back schema migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|steps N|version|force V]",
	Short: "Apply or roll back schema migrations",
	Long: `Run the embedded schema migrations against the configured database.

  up       - apply every pending migration (default)
  down     - roll back every migration
  steps N  - apply N migrations, or roll back when N is negative
  version  - print the current schema version
  force V  - set the schema version without running migrations`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	command := db.MigrateUp
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	migrations, err := fs.Sub(schema.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return db.RunMigrate(log, cfg.Postgres, migrations, command, args)
}
