package dispatch

import (
	"fmt"
	"strings"
)

// Action is the closed set of directives the skill understands.
type Action int

// Actions. ActionUnknown is the zero value and is never dispatched.
const (
	ActionUnknown Action = iota
	ActionOn
	ActionOff
	ActionRoomOn
	ActionRoomOff
	ActionList
	ActionHelp
	ActionRefresh
)

// actionNames maps accepted directive strings to actions. The device_* and
// system_help spellings are the upstream intent names.
var actionNames = map[string]Action{
	"on":          ActionOn,
	"off":         ActionOff,
	"room_on":     ActionRoomOn,
	"room_off":    ActionRoomOff,
	"list":        ActionList,
	"help":        ActionHelp,
	"refresh":     ActionRefresh,
	"device_on":   ActionOn,
	"device_off":  ActionOff,
	"system_help": ActionHelp,
}

// ParseAction converts a directive action string to an Action.
// Matching ignores case and surrounding whitespace.
func ParseAction(s string) (Action, error) {
	if a, ok := actionNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return ActionUnknown, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// String returns the canonical directive spelling.
func (a Action) String() string {
	switch a {
	case ActionOn:
		return "on"
	case ActionOff:
		return "off"
	case ActionRoomOn:
		return "room_on"
	case ActionRoomOff:
		return "room_off"
	case ActionList:
		return "list"
	case ActionHelp:
		return "help"
	case ActionRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// IsSwitch reports whether the action publishes device commands.
func (a Action) IsSwitch() bool {
	return a == ActionOn || a == ActionOff || a == ActionRoomOn || a == ActionRoomOff
}

// RoomScoped reports whether the action targets every device in a room.
func (a Action) RoomScoped() bool {
	return a == ActionRoomOn || a == ActionRoomOff
}

// TurnsOn reports whether the action sends the on payload.
func (a Action) TurnsOn() bool {
	return a == ActionOn || a == ActionRoomOn
}
