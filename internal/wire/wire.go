// Package wire defines the JSON record batch exchanged over MQTT and HTTP.
//
// A batch names a run and carries its records in order. Keys and values are
// arbitrary bytes, encoded as standard base64 strings:
//
//	{"run": "3f9a...", "records": [{"key": "bG9zcw==", "value": "AAA/gA=="}]}
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
)

// Sentinel errors for batch decoding.
var (
	// ErrMissingRun is returned when a batch names no run.
	ErrMissingRun = errors.New("wire: run is required")

	// ErrNoRecords is returned when a batch carries no records.
	ErrNoRecords = errors.New("wire: batch has no records")
)

// Record is one key/value pair of a batch.
type Record struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Batch is a run's ordered group of records.
type Batch struct {
	Run     string   `json:"run"`
	Records []Record `json:"records"`
}

// NewBatch builds a batch from a dispatch payload.
func NewBatch(run string, payload dispatch.Payload) Batch {
	records := make([]Record, len(payload))
	for i, kv := range payload {
		records[i] = Record{Key: kv.Key, Value: kv.Value}
	}
	return Batch{Run: run, Records: records}
}

// Payload converts the batch records into a dispatch payload.
func (b Batch) Payload() dispatch.Payload {
	payload := make(dispatch.Payload, len(b.Records))
	for i, r := range b.Records {
		payload[i] = dispatch.KV{Key: r.Key, Value: r.Value}
	}
	return payload
}

// Validate checks that the batch names a run and carries records.
func (b Batch) Validate() error {
	if b.Run == "" {
		return ErrMissingRun
	}
	if len(b.Records) == 0 {
		return ErrNoRecords
	}
	return nil
}

// Encode marshals the batch.
func Encode(b Batch) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	return data, nil
}

// Decode unmarshals and validates a batch. If the body names no run,
// defaultRun is used; callers pass the run taken from the topic or URL.
func Decode(data []byte, defaultRun string) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decoding batch: %w", err)
	}
	if b.Run == "" {
		b.Run = defaultRun
	}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}
