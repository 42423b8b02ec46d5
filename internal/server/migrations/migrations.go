// Package migrations embeds the goose schema migrations. Each supported
// dialect has its own directory because the DDL differs slightly between
// PostgreSQL and SQLite.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
