// Package influxdb records switch skill metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// written:
//   - switch_dispatch: one point per device command, tagged by action,
//     device room and outcome, with the publish latency in milliseconds
//   - switch_directory_refresh: device counts before and after each refresh
//
// Metrics are optional. Connect returns ErrDisabled when cfg.Enabled is
// false, and every write method is a no-op on a nil or closed client.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDispatchOutcome("on", "kitchen", true, 12*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched according to batch_size and flush_interval.
package influxdb
