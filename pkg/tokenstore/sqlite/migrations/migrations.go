// Package migrations embeds the token database schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
