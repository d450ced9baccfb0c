package migrations

import "embed"

// FS contains embedded SQLite migrations for event storage.
//
//go:embed *.sql
var FS embed.FS
