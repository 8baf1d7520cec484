// Package influxdb mirrors Storcube telemetry into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each accepted telemetry
// snapshot becomes one point in the storcube_telemetry measurement, tagged with
// the device ID. Numeric top-level fields are written as-is and the numeric
// fields of each battery entry are suffixed with its index.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//	client.WriteTelemetry("EQ123", snapshot.Fields, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Write
// failures are delivered to the SetOnError callback; connection and health
// check errors are returned directly.
package influxdb
