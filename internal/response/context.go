package response

import (
	"github.com/nerrad567/gray-logic-switch/internal/device"
	"github.com/nerrad567/gray-logic-switch/internal/dispatch"
)

// FromResult chooses the kind and context for a completed dispatch.
func FromResult(res dispatch.Result) (Kind, Context) {
	switch {
	case res.Action.IsSwitch():
		data := Context{On: res.Action.TurnsOn()}
		for _, t := range res.Succeeded() {
			data.Devices = append(data.Devices, Entry{Alias: t.Device.Alias, Room: t.Device.Room, Elsewhere: t.Elsewhere})
		}
		for _, f := range res.Failed() {
			data.Unreachable = append(data.Unreachable, f.Alias)
		}
		if !res.Action.RoomScoped() {
			return KindState, data
		}
		for _, o := range res.Outcomes {
			data.Rooms = appendRoom(data.Rooms, o.Target.Device.Room)
		}
		return KindRoomState, data

	case res.Action == dispatch.ActionList:
		return KindList, Context{Groups: groupByRoom(res.Devices)}

	case res.Action == dispatch.ActionRefresh:
		return KindRefresh, Context{
			Before: res.Refresh.Before,
			After:  res.Refresh.After,
			Stale:  res.Refresh.Stale,
		}

	case res.Action == dispatch.ActionHelp:
		return KindHelp, Context{}

	default:
		return KindUnsupported, Context{}
	}
}

// FromFailure chooses the kind and context for a request that failed.
// Fatal kinds map to the generic error response.
func FromFailure(f *device.Failure, action dispatch.Action) (Kind, Context) {
	if f == nil {
		return KindError, Context{}
	}

	switch f.Kind {
	case device.FailureDeviceNotFound:
		return KindNotFound, Context{Name: f.Name}

	case device.FailureNoDevicesInRoom:
		data := Context{On: action.TurnsOn(), Name: f.Name}
		data.Rooms = appendRoom(data.Rooms, f.Room)
		return KindNoDevices, data

	case device.FailureAmbiguous:
		data := Context{Name: f.Name}
		for _, m := range f.Matches {
			data.Rooms = appendRoom(data.Rooms, m.Room)
		}
		return KindAmbiguous, data

	case device.FailureDispatchFailed:
		return KindState, Context{On: action.TurnsOn(), Unreachable: []string{f.Alias}}

	default:
		return KindError, Context{}
	}
}

// appendRoom adds room unless it is blank or already present.
func appendRoom(rooms []string, room string) []string {
	if room == "" {
		return rooms
	}
	for _, r := range rooms {
		if r == room {
			return rooms
		}
	}
	return append(rooms, room)
}

// groupByRoom folds devices already sorted by room into one group per room.
func groupByRoom(devices []device.Device) []Group {
	var groups []Group
	for _, d := range devices {
		if n := len(groups); n > 0 && d.InRoom(groups[n-1].Room) {
			groups[n-1].Aliases = append(groups[n-1].Aliases, d.Alias)
			continue
		}
		groups = append(groups, Group{Room: d.Room, Aliases: []string{d.Alias}})
	}
	return groups
}
