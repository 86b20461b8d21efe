package influxdb

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
)

// WriteRecords writes payload as one point per record and blocks until the
// server answers.
//
// Each point is tagged with the run and the record key and carries the raw
// value base64-encoded in the "value" field plus its length in "size".
// Records of one batch are spaced one nanosecond apart so that repeated keys
// do not overwrite each other.
func (c *Client) WriteRecords(ctx context.Context, run string, payload dispatch.Payload) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(payload) == 0 {
		return nil
	}

	base := c.now()
	points := make([]*write.Point, 0, len(payload))
	for i, kv := range payload {
		points = append(points, write.NewPoint(
			c.measurement,
			map[string]string{
				"run": run,
				"key": string(kv.Key),
			},
			map[string]interface{}{
				"value": base64.StdEncoding.EncodeToString(kv.Value),
				"size":  len(kv.Value),
			},
			base.Add(time.Duration(i)),
		))
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	return classify(c.writeAPI.WritePoint(writeCtx, points...))
}
