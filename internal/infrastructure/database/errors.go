package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/rpcqueue/internal/transport"
)

// Domain-specific errors for the run store.
var (
	// ErrEmptyRun is returned when a write names no run.
	ErrEmptyRun = errors.New("database: run hash is required")
)

// IsTransient reports whether err is a lock conflict that may succeed on
// retry: SQLITE_BUSY or SQLITE_LOCKED after the busy timeout expired.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// classify marks lock conflicts as transient for the dispatch worker.
// Every other error stays fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return transport.Unavailable(err)
	}
	return err
}
