// Package migration applies versioned schema changes to a SQLite database.
//
// Migrations are read from an fs.FS (usually an embed.FS) and must be named
// {version}_{description}.sql, e.g. "001_initial_schema.sql". Each migration runs in
// its own transaction and is recorded in the schema_migrations table together with a
// BLAKE3 checksum of its contents. A recorded checksum that no longer matches the
// file aborts the run.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
