// Package cleanup runs teardown hooks in priority order.
//
// Components register a hook when they acquire a resource that must be
// released at exit. Run executes the hooks highest priority first, so a
// dispatch queue (priority 100) drains while the stores its operations
// write to (lower priorities) are still open.
//
// Usage:
//
//	reg := cleanup.New(logger)
//	reg.Register("database", 10, func(ctx context.Context) error { return db.Close() })
//	reg.Register("queue/sqlite", dispatch.ShutdownPriority, q.Shutdown)
//	defer reg.Run(shutdownCtx)
package cleanup
