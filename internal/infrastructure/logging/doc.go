// Package logging provides structured logging for rpcqueue.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the relay.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting relay", "queues", 3)
//	logger.Component("relay").Error("sink failed", "error", err)
//
// # Security
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
