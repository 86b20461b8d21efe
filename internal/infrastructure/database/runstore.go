package database

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
)

// RunStore persists record batches into the runs and run_records tables.
// It is the relay's SQLite sink.
type RunStore struct {
	db  *DB
	now func() time.Time
}

// NewRunStore creates a run store on an open, migrated database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

// Name identifies the sink.
func (s *RunStore) Name() string {
	return "sqlite"
}

// WriteRecords appends payload to run in a single transaction, creating the
// run on first write. Lock conflicts are returned as transient errors.
func (s *RunStore) WriteRecords(ctx context.Context, run string, payload dispatch.Payload) error {
	if run == "" {
		return ErrEmptyRun
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_hash, created_at, updated_at, record_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_hash) DO UPDATE SET
			updated_at = excluded.updated_at,
			record_count = runs.record_count + excluded.record_count
	`, run, ts, ts, len(payload)); err != nil {
		return classify(fmt.Errorf("upserting run %s: %w", run, err))
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO run_records (run_hash, key, value, written_at) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return classify(fmt.Errorf("preparing record insert: %w", err))
	}
	defer stmt.Close()

	for _, kv := range payload {
		if _, err := stmt.ExecContext(ctx, run, blob(kv.Key), blob(kv.Value), ts); err != nil {
			return classify(fmt.Errorf("inserting record for run %s: %w", run, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("committing run %s: %w", run, err))
	}
	return nil
}

// Records returns the stored records of run in insertion order.
func (s *RunStore) Records(ctx context.Context, run string) (dispatch.Payload, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM run_records WHERE run_hash = ? ORDER BY id", run,
	)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out dispatch.Payload
	for rows.Next() {
		var kv dispatch.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

// RecordCount returns the number of records written to run, or 0 if the run
// does not exist.
func (s *RunStore) RecordCount(ctx context.Context, run string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(record_count), 0) FROM runs WHERE run_hash = ?", run,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// blob keeps empty byte slices from being stored as NULL.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
