package mqtt

import "errors"

// Errors returned by the client and the forwarder. The forwarder treats
// ErrNotConnected, ErrPublishFailed and ErrTimeout as transient; the rest
// describe input no retry can fix.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: operation timed out")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrPayloadTooLarge rejects a message over the broker limit, or a
	// record that cannot fit in any forwarded message.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
