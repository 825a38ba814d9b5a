package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDispatch = "switch_dispatch"
	measurementRefresh  = "switch_directory_refresh"
)

// Outcome tag values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// WriteDispatchOutcome records one device command.
//
// Tags are the action and the device's room, both low cardinality. Device
// identity is not tagged.
//
// Parameters:
//   - action: Action name, e.g. "room_off"
//   - room: Room the device is in; empty is recorded as "none"
//   - succeeded: Whether the broker accepted the command
//   - latency: Time from submission to acknowledgement or failure
func (c *Client) WriteDispatchOutcome(action, room string, succeeded bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(dispatchPoint(action, room, succeeded, latency, time.Now()))
}

func dispatchPoint(action, room string, succeeded bool, latency time.Duration, ts time.Time) *write.Point {
	if room == "" {
		room = "none"
	}
	outcome := outcomeFailure
	if succeeded {
		outcome = outcomeSuccess
	}

	return write.NewPoint(
		measurementDispatch,
		map[string]string{
			"action":  action,
			"room":    room,
			"outcome": outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Microseconds()) / 1000,
		},
		ts,
	)
}

// WriteDirectoryRefresh records a device list refresh.
//
// Parameters:
//   - before: Devices known before the refresh
//   - after: Devices known after it
//   - stale: True when the directory was unreachable and the old list kept
func (c *Client) WriteDirectoryRefresh(before, after int, stale bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(refreshPoint(before, after, stale, time.Now()))
}

func refreshPoint(before, after int, stale bool, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementRefresh,
		nil,
		map[string]interface{}{
			"before": before,
			"after":  after,
			"stale":  stale,
		},
		ts,
	)
}
