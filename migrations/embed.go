// Package migrations embeds the SQL schema into the binary.
//
// Pass FS to database.DB.Migrate at startup; the files need not exist on
// the target filesystem.
package migrations

import "embed"

// FS holds every migration, at its root.
//
//go:embed *.sql
var FS embed.FS
