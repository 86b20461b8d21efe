package relay

import "errors"

var (
	// ErrNoSinks is returned by New when no sink is given.
	ErrNoSinks = errors.New("relay: at least one sink is required")

	// ErrDuplicateSink is returned by New when two sinks share a name.
	ErrDuplicateSink = errors.New("relay: duplicate sink name")

	// ErrUnknownQueue is returned for an unknown queue name.
	ErrUnknownQueue = errors.New("relay: unknown queue")

	// ErrBatchTooLarge is returned by Submit for a batch that no queue could
	// admit or that a sink cannot deliver.
	ErrBatchTooLarge = errors.New("relay: batch too large")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("relay: closed")
)
