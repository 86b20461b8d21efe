package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/nerrad567/rpcqueue/internal/transport"
)

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates the server rejected a write.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

// maxUnwrap bounds the manual unwrap in classify.
const maxUnwrap = 8

// classify converts a write error into one the dispatch worker can act on.
//
// Throttling (429), gateway and availability errors (502, 503, 504),
// network failures and write timeouts are transient. Other HTTP statuses,
// such as 400 for malformed points or 401 for a bad token, are fatal.
//
// The client's *http.Error is never wrapped in the result; its Unwrap may
// return the receiver, which would make errors.Is loop.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if he := findHTTPError(err); he != nil {
		if he.StatusCode == 0 {
			if he.Err == nil {
				return fmt.Errorf("%w: %s", ErrWriteFailed, he.Message)
			}
			return classify(he.Err)
		}

		msg := he.Message
		if msg == "" {
			msg = http.StatusText(he.StatusCode)
		}
		wrapped := fmt.Errorf("%w: status %d: %s", ErrWriteFailed, he.StatusCode, msg)
		switch he.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return transport.Unavailable(wrapped)
		}
		return wrapped
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return transport.Unavailable(fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

// findHTTPError walks the single-error unwrap chain of err looking for the
// client's *http.Error.
func findHTTPError(err error) *ihttp.Error {
	for i := 0; err != nil && i < maxUnwrap; i++ {
		if he, ok := err.(*ihttp.Error); ok {
			return he
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		next := u.Unwrap()
		if next == err {
			return nil
		}
		err = next
	}
	return nil
}
