package mqtt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/transport"
	"github.com/nerrad567/rpcqueue/internal/wire"
)

// Fixed JSON framing of an encoded wire batch, excluding the run string:
// {"run":<run>,"records":[...]} and {"key":<k>,"value":<v>} per record.
const (
	batchFrameSize  = len(`{"run":`) + len(`,"records":[`) + len(`]}`)
	recordFrameSize = len(`{"key":`) + len(`,"value":`) + len(`}`)
)

// publisher is the subset of Client the forwarder needs.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Forwarder republishes record batches to {prefix}/forward/{run}.
//
// A batch whose encoding exceeds the broker message limit is split into
// several messages on the same topic, in record order.
type Forwarder struct {
	pub    publisher
	topics Topics
	qos    byte

	// limit is the largest message the forwarder publishes.
	limit int
}

// NewForwarder returns a sink publishing through client at the given QoS.
func NewForwarder(client *Client, qos byte) *Forwarder {
	return newForwarder(client, client.Topics(), qos)
}

func newForwarder(pub publisher, topics Topics, qos byte) *Forwarder {
	return &Forwarder{pub: pub, topics: topics, qos: qos, limit: maxPayloadSize}
}

// Name identifies the sink in queue names and metrics.
func (f *Forwarder) Name() string {
	return "mqtt"
}

// CheckBatch rejects a batch holding a record that cannot fit in one
// message on its own. The relay calls it before the batch is queued.
func (f *Forwarder) CheckBatch(run string, payload dispatch.Payload) error {
	_, err := f.split(run, payload)
	return err
}

// WriteRecords publishes the run's records as one or more batch messages.
//
// A disconnected client or a failed delivery is transient and the queue
// retries the whole batch, so messages published before the failure may be
// delivered twice. Invalid input (empty topic, bad QoS, a record too large
// for any message) is fatal.
func (f *Forwarder) WriteRecords(ctx context.Context, run string, payload dispatch.Payload) error {
	chunks, err := f.split(run, payload)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	topic := f.topics.Forward(run)
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return transport.Unavailable(err)
		}

		data, err := wire.Encode(wire.NewBatch(run, chunk))
		if err != nil {
			return err
		}
		if err := f.pub.Publish(topic, data, f.qos, false); err != nil {
			return classify(err)
		}
	}
	return nil
}

// split cuts payload into runs of records whose encoded batch stays within
// f.limit. Sizes are computed from the wire encoding without encoding.
func (f *Forwarder) split(run string, payload dispatch.Payload) ([]dispatch.Payload, error) {
	frame := batchFrameSize + jsonStringSize(run)

	var chunks []dispatch.Payload
	start, size := 0, frame
	for i, kv := range payload {
		rec := recordFrameSize + bytesFieldSize(kv.Key) + bytesFieldSize(kv.Value)
		if frame+rec > f.limit {
			return nil, fmt.Errorf("%w: record %d of run %s encodes to %d bytes, maximum %d",
				ErrPayloadTooLarge, i, run, frame+rec, f.limit)
		}

		sep := 0
		if i > start {
			sep = 1
		}
		if size+sep+rec > f.limit {
			chunks = append(chunks, payload[start:i])
			start, size, sep = i, frame, 0
		}
		size += sep + rec
	}
	return append(chunks, payload[start:]), nil
}

// bytesFieldSize is the JSON size of b as encoding/json writes a []byte.
func bytesFieldSize(b []byte) int {
	if b == nil {
		return len("null")
	}
	return base64.StdEncoding.EncodedLen(len(b)) + 2
}

func jsonStringSize(s string) int {
	data, _ := json.Marshal(s) //nolint:errcheck // strings always marshal
	return len(data)
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrPublishFailed), errors.Is(err, ErrTimeout):
		return transport.Unavailable(err)
	default:
		return fmt.Errorf("forward: %w", err)
	}
}
