package device

import (
	"context"
	"strings"
)

// SnapshotSource supplies the snapshot a resolution runs against.
// *Cache satisfies it.
type SnapshotSource interface {
	Get(ctx context.Context) (*Snapshot, error)
}

// Query is a free-text device reference from a directive.
//
// An empty Name makes the query room-scoped: every device in Room, or only
// those of Type when it is set.
type Query struct {
	Name string
	Room string
	Type string
}

// Resolver turns a Query into concrete devices using room priority.
type Resolver struct {
	source SnapshotSource
	logger Logger
}

// NewResolver creates a resolver reading from source.
func NewResolver(source SnapshotSource) *Resolver {
	return &Resolver{source: source, logger: noopLogger{}}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Resolve returns the devices q refers to.
//
// With a Name, a case-insensitive alias match in q.Room wins outright; only
// when the room has no match is every room searched. More than one
// candidate at the winning step is Ambiguous; the resolver never picks one.
// No candidate at all is DeviceNotFound.
//
// Without a Name, all devices in q.Room (narrowed to q.Type if set) are
// returned in alias order, or NoDevicesInRoom if there are none.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Device, error) {
	snap, err := r.source.Get(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(q.Name)
	if name == "" {
		return roomDevices(snap, q)
	}

	matches := snap.WithAlias(name)
	if len(matches) == 0 {
		r.logger.Debug("no device matched", "name", name, "room", q.Room)
		return nil, NotFound(name, q.Room)
	}

	if strings.TrimSpace(q.Room) != "" {
		var inRoom []Device
		for _, d := range matches {
			if d.InRoom(q.Room) {
				inRoom = append(inRoom, d)
			}
		}
		switch {
		case len(inRoom) == 1:
			return inRoom, nil
		case len(inRoom) > 1:
			r.logger.Warn("duplicate alias within room", "name", name, "room", q.Room, "count", len(inRoom))
			return nil, Ambiguous(name, inRoom)
		}
		r.logger.Debug("no match in hinted room, using global match", "name", name, "room", q.Room)
	}

	if len(matches) > 1 {
		return nil, Ambiguous(name, matches)
	}
	return matches, nil
}

// roomDevices answers a room-scoped query.
func roomDevices(snap *Snapshot, q Query) ([]Device, error) {
	devices := snap.InRoom(q.Room)
	if q.Type == "" {
		if len(devices) == 0 {
			return nil, NoDevicesInRoom(q.Room)
		}
		return devices, nil
	}

	var typed []Device
	for _, d := range devices {
		if d.OfType(q.Type) {
			typed = append(typed, d)
		}
	}
	if len(typed) == 0 {
		return nil, NoDevicesOfType(q.Room, q.Type)
	}
	return typed, nil
}
