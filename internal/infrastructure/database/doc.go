// Package database provides SQLite connectivity for gatesync.
//
// It opens a single-connection pool (SQLite serialises writers anyway) with
// WAL journalling, foreign keys enabled, and a busy timeout, restricts the
// database file to owner read/write, and runs embedded schema migrations.
//
// Migrations live in migrations/*.sql as timestamped up/down pairs and are
// applied in order inside per-migration transactions; each applied version
// is recorded in the schema_migrations table so reruns are no-ops.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/gatesync.db", WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
