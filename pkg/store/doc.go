// Package store persists the canonical state of a table.
//
// A Store is a key/value backend for encoded snapshots. The package
// provides four backends:
//
//   - MemoryStore: in-process, for tests and ephemeral tables
//   - FileStore: one JSON file per key, written atomically
//   - SQLStore: a SQLite table through database/sql (modernc.org/sqlite)
//   - S3Store: one object per key in an S3 bucket
//
// Snapshots carry the schema version they were written with. Loading goes
// through a Migrator, which turns a persisted snapshot of any supported
// version into a valid state of the current version:
//
//	s, ok, err := store.LoadState(ctx, st, "default", store.StrictMigrator{})
//	if err != nil {
//	    return err // E060 unsupported version, E061 corrupt
//	}
//	if !ok {
//	    s = state.Initial()
//	}
package store
