package db

import "embed"

// MigrationsFS holds the schema migrations in lexical apply order.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
