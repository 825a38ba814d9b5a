package device

import (
	"strings"

	"golang.org/x/text/cases"
)

// Default command payloads used when a directory record leaves them empty.
const (
	DefaultPayloadOn  = "ON"
	DefaultPayloadOff = "OFF"
)

// GenericTypes are the device types a spoken type name ("the light") can
// target as a group.
var GenericTypes = []string{"light", "switch", "plug", "bulb"}

// IsGenericType reports whether name is one of GenericTypes.
func IsGenericType(name string) bool {
	name = normalize(name)
	for _, t := range GenericTypes {
		if t == name {
			return true
		}
	}
	return false
}

// Device is a switchable endpoint as stored in the device directory.
// This matches the switch_devices table in migrations/.
//
// Devices inside a Snapshot are read-only; callers receive copies.
type Device struct {
	ID         int64  `json:"id"`
	Topic      string `json:"topic"`
	Alias      string `json:"alias"`
	Room       string `json:"room"`
	PayloadOn  string `json:"payload_on"`
	PayloadOff string `json:"payload_off"`

	// Type is the optional device category, e.g. "light" or "plug".
	Type string `json:"type,omitempty"`
}

// Payload returns the command payload for switching the device on or off.
func (d Device) Payload(on bool) string {
	if on {
		return d.PayloadOn
	}
	return d.PayloadOff
}

// InRoom reports whether the device belongs to room, compared the same way
// the resolver compares room hints.
func (d Device) InRoom(room string) bool {
	return normalize(d.Room) == normalize(room)
}

// OfType reports whether the device has type t, ignoring case.
// A device with no type matches nothing.
func (d Device) OfType(t string) bool {
	return d.Type != "" && normalize(d.Type) == normalize(t)
}

// withDefaults fills empty payloads with the ON/OFF defaults.
func (d Device) withDefaults() Device {
	if d.PayloadOn == "" {
		d.PayloadOn = DefaultPayloadOn
	}
	if d.PayloadOff == "" {
		d.PayloadOff = DefaultPayloadOff
	}
	return d
}

// normalize folds case and collapses whitespace so that spoken references
// ("Living  Room", "living room") compare equal.
//
// A cases.Caser is stateful, so a new one is built per call.
func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
