package device

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the device package.
//
// These can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDirectoryUnavailable) {
//	    // no snapshot could be loaded
//	}
var (
	// ErrDirectoryUnavailable is wrapped by every DirectoryUnavailable failure.
	ErrDirectoryUnavailable = errors.New("device: directory unavailable")

	// ErrInvalidDevice is returned when a directory record fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidTopic is returned when a topic cannot be used as a destination.
	ErrInvalidTopic = errors.New("device: invalid topic")
)

// FailureKind identifies one member of the closed set of request failures.
// The response layer switches on the kind; it never parses messages.
type FailureKind string

// The failure kinds. Internal covers every error that is not a *Failure.
const (
	FailureDeviceNotFound       FailureKind = "device_not_found"
	FailureNoDevicesInRoom      FailureKind = "no_devices_in_room"
	FailureAmbiguous            FailureKind = "ambiguous"
	FailureDirectoryUnavailable FailureKind = "directory_unavailable"
	FailureDispatchFailed       FailureKind = "dispatch_failed"
	FailureInternal             FailureKind = "internal"
)

// Failure is a typed request failure carrying the context a response needs.
//
// Which fields are set depends on Kind:
//   - DeviceNotFound: Name (and Room when a hint was given)
//   - NoDevicesInRoom: Room (and Name when a device type was asked for)
//   - Ambiguous: Name, Matches
//   - DirectoryUnavailable: Err
//   - DispatchFailed: Alias, Room, Reason, Err
//   - Internal: Err
type Failure struct {
	Kind    FailureKind
	Name    string
	Room    string
	Alias   string
	Reason  string
	Matches []Device
	Err     error
}

// Error implements error. Messages are for logs, not for users.
func (f *Failure) Error() string {
	switch f.Kind {
	case FailureDeviceNotFound:
		return fmt.Sprintf("device %q not found", f.Name)
	case FailureNoDevicesInRoom:
		if f.Name != "" {
			return fmt.Sprintf("no %s devices in room %q", f.Name, f.Room)
		}
		return fmt.Sprintf("no devices in room %q", f.Room)
	case FailureAmbiguous:
		aliases := make([]string, 0, len(f.Matches))
		for _, m := range f.Matches {
			aliases = append(aliases, m.Alias+"@"+m.Room)
		}
		return fmt.Sprintf("device %q is ambiguous: %s", f.Name, strings.Join(aliases, ", "))
	case FailureDispatchFailed:
		if f.Err != nil {
			return fmt.Sprintf("dispatch to %q failed: %s: %v", f.Alias, f.Reason, f.Err)
		}
		return fmt.Sprintf("dispatch to %q failed: %s", f.Alias, f.Reason)
	default:
		if f.Err != nil {
			return fmt.Sprintf("%s: %v", f.Kind, f.Err)
		}
		return string(f.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (f *Failure) Unwrap() error { return f.Err }

// Fatal reports whether the failure ends the request with a generic answer.
func (f *Failure) Fatal() bool {
	return f.Kind == FailureDirectoryUnavailable || f.Kind == FailureInternal
}

// AsFailure returns err as a *Failure, classifying anything else as Internal.
// It returns nil for a nil error.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailureInternal, Err: err}
}

// KindOf returns the failure kind of err. A nil error has no kind.
func KindOf(err error) FailureKind {
	if f := AsFailure(err); f != nil {
		return f.Kind
	}
	return ""
}

// NotFound builds a DeviceNotFound failure.
func NotFound(name, room string) *Failure {
	return &Failure{Kind: FailureDeviceNotFound, Name: name, Room: room}
}

// NoDevicesInRoom builds a NoDevicesInRoom failure.
func NoDevicesInRoom(room string) *Failure {
	return &Failure{Kind: FailureNoDevicesInRoom, Room: room}
}

// NoDevicesOfType builds a NoDevicesInRoom failure for a type-filtered query.
func NoDevicesOfType(room, deviceType string) *Failure {
	return &Failure{Kind: FailureNoDevicesInRoom, Name: deviceType, Room: room}
}

// Ambiguous builds an Ambiguous failure carrying every candidate.
func Ambiguous(name string, matches []Device) *Failure {
	return &Failure{Kind: FailureAmbiguous, Name: name, Matches: matches}
}

// DirectoryUnavailable builds a DirectoryUnavailable failure wrapping cause.
// The result satisfies errors.Is(err, ErrDirectoryUnavailable).
func DirectoryUnavailable(cause error) *Failure {
	return &Failure{
		Kind: FailureDirectoryUnavailable,
		Err:  fmt.Errorf("%w: %w", ErrDirectoryUnavailable, cause),
	}
}

// DispatchFailed builds the per-device failure aggregated by the dispatcher.
func DispatchFailed(d Device, reason string, cause error) *Failure {
	return &Failure{
		Kind:   FailureDispatchFailed,
		Alias:  d.Alias,
		Room:   d.Room,
		Reason: reason,
		Err:    cause,
	}
}
