// Package migrations embeds the local database schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
