package skill

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-switch/internal/device"
	"github.com/nerrad567/gray-logic-switch/internal/response"
)

// maxDeviceRefs bounds how many devices one directive may name.
const maxDeviceRefs = 16

// Directive is a parsed instruction from the intent engine.
//
// Example payload:
//
//	{"id": "5b0c9a4e-2f7d-4c1b-9a63-0e8f1d2c3b4a", "certainty": 0.93, "action": "on",
//	 "devices": [{"name": "coffee maker"}, {"name": "light", "generic": true}],
//	 "room": "kitchen", "reply_to": "graylogic/satellite/kitchen/say"}
//
// Producers that only ever name one device may send "device": "coffee maker"
// instead of the devices list; it is ignored when devices is present.
type Directive struct {
	ID        string      `json:"id"`
	Certainty float64     `json:"certainty"`
	Action    string      `json:"action"`
	Device    string      `json:"device,omitempty"`
	Devices   []DeviceRef `json:"devices,omitempty"`
	Room      string      `json:"room,omitempty"`
	ReplyTo   string      `json:"reply_to,omitempty"`
}

// DeviceRef is one device named in a directive.
type DeviceRef struct {
	Name string `json:"name"`

	// Generic marks Name as a device type ("turn on the lights"). It only
	// takes effect for device.GenericTypes; other names resolve as aliases.
	Generic bool `json:"generic,omitempty"`
}

// query builds the resolver query for r, scoped to room.
func (r DeviceRef) query(room string) device.Query {
	if r.Generic && device.IsGenericType(r.Name) {
		return device.Query{Room: room, Type: r.Name}
	}
	return device.Query{Name: r.Name, Room: room}
}

// References returns the devices d names, in order.
func (d Directive) References() []DeviceRef {
	if len(d.Devices) > 0 {
		return d.Devices
	}
	if d.Device != "" {
		return []DeviceRef{{Name: d.Device}}
	}
	return nil
}

// Response is the reply published for a handled directive.
type Response struct {
	ID   string        `json:"id"`
	Kind response.Kind `json:"kind"`
	Text string        `json:"text"`
}

// ParseDirective decodes and validates a directive payload.
// A directive without an ID is given a random one so its reply can be correlated.
func ParseDirective(payload []byte) (Directive, error) {
	var d Directive
	if err := json.Unmarshal(payload, &d); err != nil {
		return Directive{}, fmt.Errorf("%w: %w", ErrInvalidDirective, err)
	}
	if err := d.Validate(); err != nil {
		return Directive{}, err
	}

	d.Action = strings.TrimSpace(d.Action)
	d.Device = strings.TrimSpace(d.Device)
	refs := d.Devices[:0]
	for _, ref := range d.Devices {
		ref.Name = strings.TrimSpace(ref.Name)
		if ref.Name != "" {
			refs = append(refs, ref)
		}
	}
	d.Devices = refs
	d.Room = strings.TrimSpace(d.Room)
	d.ReplyTo = strings.TrimSpace(d.ReplyTo)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return d, nil
}

// Validate checks the fields every directive needs.
func (d Directive) Validate() error {
	if math.IsNaN(d.Certainty) || d.Certainty < 0 || d.Certainty > 1 {
		return fmt.Errorf("%w: certainty %v outside [0, 1]", ErrInvalidDirective, d.Certainty)
	}
	if strings.TrimSpace(d.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidDirective)
	}
	if len(d.Devices) > maxDeviceRefs {
		return fmt.Errorf("%w: %d devices named, at most %d", ErrInvalidDirective, len(d.Devices), maxDeviceRefs)
	}
	if strings.ContainsAny(d.ReplyTo, "+#") {
		return fmt.Errorf("%w: reply_to must not contain wildcards", ErrInvalidDirective)
	}
	return nil
}
