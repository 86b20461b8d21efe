// Package database provides the SQLite run store sink.
//
// This package manages:
//   - Database connection with WAL mode and a single writer connection
//   - Schema migrations from an fs.FS (the migrations package embeds them)
//   - RunStore, which appends record batches to runs
//   - Classification of lock conflicts as transient dispatch errors
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//	store := database.NewRunStore(db)
//	err = store.WriteRecords(ctx, "run-hash", payload)
package database
