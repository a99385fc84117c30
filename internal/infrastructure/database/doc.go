// Package database provides the bridge's SQLite store.
//
// It holds the action log: every command sent to the cloud and how it
// ended. The store manages:
//   - Connection setup with WAL mode for concurrent reads
//   - Schema migrations read from an fs.FS (normally migrations.FS)
//   - A single-writer connection pool and lifecycle
//
// All queries use parameterised statements. The database file is
// restricted to its owner (0600).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are files named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, applied in version order. They are additive:
// new columns must be nullable or carry a default.
package database
