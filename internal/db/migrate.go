package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/disciple-tools/homescreen-apps/internal/config"
)

// Migration commands accepted by RunMigrate.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateSteps   = "steps"
	MigrateVersion = "version"
	MigrateForce   = "force"
)

// RunMigrate applies or rolls back the schema. migrationsFS holds the .sql files at its root.
// "steps" and "force" take one integer argument.
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	n, err := migrateArg(command, args)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger}

	switch command {
	case MigrateUp:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
	case MigrateDown:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("all migrations rolled back")
		return nil
	case MigrateSteps:
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate steps %d: %w", n, err)
		}
	case MigrateForce:
		if err := m.Force(n); err != nil {
			return fmt.Errorf("migrate force: %w", err)
		}
	}

	ver, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate version: %w", err)
	}
	logger.Info("schema version", slog.String("command", command), slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	return nil
}

func migrateArg(command string, args []string) (int, error) {
	switch command {
	case MigrateUp, MigrateDown, MigrateVersion:
		return 0, nil
	case MigrateSteps, MigrateForce:
		if len(args) == 0 {
			return 0, fmt.Errorf("%s requires a number argument", command)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid %s argument %q: %w", command, args[0], err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown migrate command: %s (use: up, down, steps, version, force)", command)
	}
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
