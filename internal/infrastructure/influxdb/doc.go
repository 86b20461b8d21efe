// Package influxdb provides the InfluxDB relay sink.
//
// It wraps the official influxdb-client-go v2 library. Connect verifies the
// server with a ping; WriteRecords uses the blocking write API so that every
// batch is acknowledged before the dispatch worker moves on.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteRecords(ctx, "run-hash", payload)
//
// # Error Handling
//
// Write errors are classified for the dispatch queue: throttling, gateway
// errors, network failures and timeouts are transient and retried; any other
// rejection stops the queue worker.
package influxdb
