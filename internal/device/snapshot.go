package device

import (
	"cmp"
	"slices"
	"time"
)

// Snapshot is an immutable, point-in-time view of all known devices.
//
// A Snapshot is never modified after construction. Refreshes build a new
// one and swap it in, so a holder always sees one consistent generation.
// Accessors return copies.
type Snapshot struct {
	devices  []Device            // sorted by room, then alias
	byRoom   map[string][]Device // normalised room -> devices, sorted by alias
	byAlias  map[string][]Device // normalised alias -> devices across rooms
	rooms    []string            // display names, sorted
	loadedAt time.Time
}

// newSnapshot indexes records. Records that fail validation are reported
// through skipped and left out.
func newSnapshot(records []Device, loadedAt time.Time, skipped func(Device, error)) *Snapshot {
	devices := make([]Device, 0, len(records))
	for _, rec := range records {
		if err := ValidateDevice(rec); err != nil {
			if skipped != nil {
				skipped(rec, err)
			}
			continue
		}
		devices = append(devices, rec.withDefaults())
	}
	slices.SortFunc(devices, compareDevices)

	s := &Snapshot{
		devices:  devices,
		byRoom:   make(map[string][]Device),
		byAlias:  make(map[string][]Device),
		loadedAt: loadedAt,
	}
	for _, d := range devices {
		room := normalize(d.Room)
		if _, seen := s.byRoom[room]; !seen {
			s.rooms = append(s.rooms, d.Room)
		}
		s.byRoom[room] = append(s.byRoom[room], d)
		alias := normalize(d.Alias)
		s.byAlias[alias] = append(s.byAlias[alias], d)
	}
	return s
}

// compareDevices orders by room, then alias, then ID for a stable result.
func compareDevices(a, b Device) int {
	if c := cmp.Compare(normalize(a.Room), normalize(b.Room)); c != 0 {
		return c
	}
	if c := cmp.Compare(normalize(a.Alias), normalize(b.Alias)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Len returns the number of devices. A nil snapshot has none.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.devices)
}

// LoadedAt returns when the snapshot was read from the directory.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Devices returns all devices sorted by room then alias.
func (s *Snapshot) Devices() []Device {
	return slices.Clone(s.devices)
}

// InRoom returns the devices in room (case-insensitive), sorted by alias.
func (s *Snapshot) InRoom(room string) []Device {
	return slices.Clone(s.byRoom[normalize(room)])
}

// WithAlias returns every device whose alias matches (case-insensitive)
// across all rooms, sorted by room.
func (s *Snapshot) WithAlias(alias string) []Device {
	return slices.Clone(s.byAlias[normalize(alias)])
}

// Rooms returns the distinct room names in sort order.
func (s *Snapshot) Rooms() []string {
	return slices.Clone(s.rooms)
}
