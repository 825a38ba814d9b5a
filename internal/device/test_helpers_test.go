package device

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// MockDirectory is a test implementation of Directory.
type MockDirectory struct {
	mu      sync.Mutex
	devices []Device
	err     error

	// gate, when non-nil, blocks FetchAll until it is closed.
	gate chan struct{}

	calls atomic.Int32
}

func NewMockDirectory(devices ...Device) *MockDirectory {
	return &MockDirectory{devices: devices}
}

func (m *MockDirectory) FetchAll(ctx context.Context) ([]Device, error) {
	m.calls.Add(1)

	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.devices), nil
}

func (m *MockDirectory) SetDevices(devices ...Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

func (m *MockDirectory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockDirectory) Block() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	return m.gate
}

func (m *MockDirectory) Calls() int {
	return int(m.calls.Load())
}

// testDevice builds a valid device; the topic is derived from room and alias.
func testDevice(id int64, alias, room string) Device {
	return Device{
		ID:         id,
		Topic:      "test/" + slug(room) + "/" + slug(alias),
		Alias:      alias,
		Room:       room,
		PayloadOn:  "ON",
		PayloadOff: "OFF",
	}
}

func slug(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == ' ' {
			out[i] = '_'
		}
	}
	return string(out)
}

func aliasesOf(devices []Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Alias + "@" + d.Room
	}
	return out
}
