// Package api implements the relay's HTTP API.
//
// This package provides:
//   - Queue status, flush and restart endpoints
//   - Batch ingest over HTTP (POST /api/v1/runs/{run}/records)
//   - Aggregated health of queues and sinks
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
