// Package migrations embeds the refresh ledger schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
