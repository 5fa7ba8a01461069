// Package migrations embeds the SQLite schema for the mission repository.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
