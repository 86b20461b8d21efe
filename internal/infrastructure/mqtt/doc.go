// Package mqtt provides MQTT client connectivity for the relay.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - The ingest subscription ({prefix}/ingest/+)
//   - The forward sink ({prefix}/forward/{run})
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Producers publish wire batches to {prefix}/ingest/{run}. With forwarding
// enabled the relay republishes every batch it accepts to
// {prefix}/forward/{run}. Each instance keeps a retained status message at
// {prefix}/status/{client_id}.
//
// # Error classification
//
// The forward sink reports a disconnected client or a failed delivery as
// transient (gRPC Unavailable) so the dispatch queue retries it. Input
// errors are fatal.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllIngest(), 1, relay.HandleIngest)
//
//	sink := mqtt.NewForwarder(client, byte(cfg.MQTT.QoS))
package mqtt
