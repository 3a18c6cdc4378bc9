// Package migrations embeds the replica (SQLite) schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
