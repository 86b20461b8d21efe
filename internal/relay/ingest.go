package relay

import (
	"fmt"
	"path"

	"github.com/nerrad567/rpcqueue/internal/wire"
)

// HandleIngest decodes a wire batch received on an ingest topic and
// submits it. The last topic segment is the run unless the body names one.
//
// Its signature matches mqtt.MessageHandler.
func (r *Relay) HandleIngest(topic string, payload []byte) error {
	batch, err := wire.Decode(payload, runFromTopic(topic))
	if err != nil {
		return fmt.Errorf("ingest on %s: %w", topic, err)
	}
	if err := r.Submit(batch.Run, batch.Payload()); err != nil {
		return fmt.Errorf("ingest on %s: %w", topic, err)
	}

	r.logger.Debug("batch ingested",
		"topic", topic,
		"run", batch.Run,
		"records", len(batch.Records),
	)
	return nil
}

func runFromTopic(topic string) string {
	run := path.Base(topic)
	if run == "." || run == "/" {
		return ""
	}
	return run
}
