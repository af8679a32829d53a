// Package db embeds the SQL schema migrations.
package db

import "embed"

// MigrationsFS holds the migration files under migrations/.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
