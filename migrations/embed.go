// Package migrations embeds the run store schema into the binary.
//
// Only *.up.sql files are applied; the matching .down.sql files document
// how to revert a migration by hand.
package migrations

import "embed"

// FS holds the migration files at its root.
//
//go:embed *.sql
var FS embed.FS
