package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate and by the server when MIGRATE_ON_START is set.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
