// Package migrations embeds the goose migrations for the audit_logs table.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
