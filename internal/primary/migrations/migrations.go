// Package migrations embeds the primary (PostgreSQL) schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
