// Package db embeds the SQL migrations applied at startup.
package db

import "embed"

// Migrations holds the versioned schema migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS
