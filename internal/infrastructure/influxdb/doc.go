// Package influxdb records pool history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. The
// coordinator hands it every new snapshot through WriteSnapshot.
//
// # Measurements
//
//   - pool_status: connected, temperature, active_favourite
//   - channel_state (tags channel, kind): mode, mode_code, mode_index,
//     setpoint, spa_setpoint, effect
//
// Points carry the time the snapshot was fetched, not the time of writing.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "poolbridge",
//	    Bucket:  "pool",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Error Handling
//
// Write errors arrive asynchronously through the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
