package dispatch

import (
	"time"

	"github.com/nerrad567/gray-logic-switch/internal/device"
)

// Target is a resolved device together with where it was found relative to
// the requester.
type Target struct {
	Device device.Device

	// Elsewhere is true when the device is outside the requesting room.
	Elsewhere bool
}

// Targets wraps resolved devices, marking those outside requestRoom.
// With no request room nothing is marked.
func Targets(devices []device.Device, requestRoom string) []Target {
	targets := make([]Target, len(devices))
	for i, d := range devices {
		targets[i] = Target{
			Device:    d,
			Elsewhere: requestRoom != "" && !d.InRoom(requestRoom),
		}
	}
	return targets
}

// Outcome is the settled result of one command branch.
type Outcome struct {
	Target  Target
	Latency time.Duration

	// Failure is nil when the command was handed to the transport.
	Failure *device.Failure
}

// Succeeded reports whether the branch succeeded.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil
}

// Result is the aggregate of one Dispatch call.
//
// Which fields are set depends on the action:
//   - On/Off/RoomOn/RoomOff: Outcomes, one per target in input order
//   - List: Devices, sorted by room then alias
//   - Refresh: Refresh
//   - Help: nothing
type Result struct {
	Action   Action
	Outcomes []Outcome
	Devices  []device.Device
	Refresh  device.RefreshStats
}

// Succeeded returns the targets whose commands succeeded, in input order.
func (r Result) Succeeded() []Target {
	var out []Target
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o.Target)
		}
	}
	return out
}

// Failed returns the DispatchFailed failures, in input order.
func (r Result) Failed() []*device.Failure {
	var out []*device.Failure
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o.Failure)
		}
	}
	return out
}

// Partial reports whether some but not all branches succeeded.
func (r Result) Partial() bool {
	failed := len(r.Failed())
	return failed > 0 && failed < len(r.Outcomes)
}
