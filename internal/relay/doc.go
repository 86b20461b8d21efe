// Package relay fans record batches out to remote sinks.
//
// Every sink gets its own dispatch queue, so a slow or unreachable sink
// backs up only its own queue and never reorders another's writes:
//
//	producer ─┬─▶ [queue sqlite]   ─▶ run store
//	          ├─▶ [queue influxdb] ─▶ InfluxDB
//	          └─▶ [queue mqtt]     ─▶ {prefix}/forward/{run}
//
// Batches arrive through Submit, the HTTP API, or HandleIngest, which is
// registered as the MQTT ingest handler. A queue whose worker fails on a
// non-transient error stops draining; the per-queue supervisor restarts it
// when restart_on_failure is set, abandoning the task that failed.
package relay
