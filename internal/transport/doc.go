// Package transport classifies failures returned by remote write operations.
//
// The dispatch queue treats a remote operation as an opaque callable. The
// only thing it needs to know about a failure is whether the remote side was
// temporarily unavailable (worth retrying) or whether the failure is final.
// This package encodes that decision using gRPC status codes, so that sinks
// built on gRPC, HTTP, MQTT or SQLite all speak the same vocabulary:
//
//	codes.Unavailable -> transient, retried by the executor
//	anything else     -> fatal, stops the executor
//
// Sinks wrap their own temporary failures with Unavailable:
//
//	if errors.Is(err, mqtt.ErrNotConnected) {
//	    return transport.Unavailable(err)
//	}
package transport
