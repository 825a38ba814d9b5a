package dispatch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/gray-logic-switch/internal/device"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// publishCall records one PublishCommand invocation.
type publishCall struct {
	Destination string
	Payload     string
}

// mockPublisher is a test Publisher. Behaviour per destination is set with on.
type mockPublisher struct {
	mu       sync.Mutex
	calls    []publishCall
	behavior map[string]func(ctx context.Context) error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{behavior: make(map[string]func(ctx context.Context) error)}
}

func (p *mockPublisher) on(destination string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behavior[destination] = fn
}

func (p *mockPublisher) PublishCommand(ctx context.Context, destination, payload string) error {
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{Destination: destination, Payload: payload})
	fn := p.behavior[destination]
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (p *mockPublisher) Calls() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Clone(p.calls)
	slices.SortFunc(out, func(a, b publishCall) int {
		if a.Destination < b.Destination {
			return -1
		}
		if a.Destination > b.Destination {
			return 1
		}
		return 0
	})
	return out
}

// staticDirectory is a device.Directory over a fixed slice.
type staticDirectory struct {
	mu      sync.Mutex
	devices []device.Device
	err     error
}

func (d *staticDirectory) FetchAll(context.Context) ([]device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return slices.Clone(d.devices), nil
}

func (d *staticDirectory) set(devices []device.Device, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices, d.err = devices, err
}

// recordedOutcome is one Recorder call.
type recordedOutcome struct {
	Action    string
	Room      string
	Succeeded bool
}

type mockRecorder struct {
	mu        sync.Mutex
	outcomes  []recordedOutcome
	refreshes []device.RefreshStats
}

func (r *mockRecorder) WriteDirectoryRefresh(before, after int, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, device.RefreshStats{Before: before, After: after, Stale: stale})
}

func (r *mockRecorder) WriteDispatchOutcome(action, room string, succeeded bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{Action: action, Room: room, Succeeded: succeeded})
}

func newDevice(id int64, topic, alias, room string) device.Device {
	return device.Device{ID: id, Topic: topic, Alias: alias, Room: room, PayloadOn: "ON", PayloadOff: "OFF"}
}

func threePlugs() []device.Device {
	return []device.Device{
		newDevice(1, "kitchen/plug/one", "plug one", "kitchen"),
		newDevice(2, "kitchen/plug/two", "plug two", "kitchen"),
		newDevice(3, "kitchen/plug/three", "plug three", "kitchen"),
	}
}

func newTestDispatcher(pub Publisher, devices ...device.Device) *Dispatcher {
	cache := device.NewCache(&staticDirectory{devices: devices})
	return New(pub, cache, Config{PublishTimeout: time.Second})
}

func TestDispatch_On(t *testing.T) {
	pub := newMockPublisher()
	coffee := newDevice(1, "kitchen/plug/coffee", "coffee maker", "kitchen")
	d := newTestDispatcher(pub, coffee)

	res, err := d.Dispatch(context.Background(), ActionOn, Targets([]device.Device{coffee}, "bedroom"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	want := []publishCall{{Destination: "kitchen/plug/coffee/set", Payload: "ON"}}
	if got := pub.Calls(); !slices.Equal(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
	succeeded := res.Succeeded()
	if len(succeeded) != 1 || !succeeded[0].Elsewhere {
		t.Errorf("Succeeded() = %+v, want one target marked Elsewhere", succeeded)
	}
	if len(res.Failed()) != 0 || res.Partial() {
		t.Errorf("unexpected failures: %v", res.Failed())
	}
}

func TestDispatch_PayloadPerAction(t *testing.T) {
	tests := []struct {
		action  Action
		payload string
	}{
		{ActionOn, "1"},
		{ActionRoomOn, "1"},
		{ActionOff, "0"},
		{ActionRoomOff, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			pub := newMockPublisher()
			dev := device.Device{ID: 1, Topic: "hall/relay", Alias: "relay", Room: "hall", PayloadOn: "1", PayloadOff: "0"}
			d := newTestDispatcher(pub, dev)

			if _, err := d.Dispatch(context.Background(), tt.action, Targets([]device.Device{dev}, "hall")); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			calls := pub.Calls()
			if len(calls) != 1 || calls[0].Payload != tt.payload {
				t.Errorf("published %v, want payload %q", calls, tt.payload)
			}
		})
	}
}

func TestDispatch_CustomSuffix(t *testing.T) {
	pub := newMockPublisher()
	dev := newDevice(1, "shelly/plug", "kettle", "kitchen")
	d := New(pub, device.NewCache(&staticDirectory{}), Config{CommandSuffix: "/command"})

	if _, err := d.Dispatch(context.Background(), ActionOn, Targets([]device.Device{dev}, "")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if calls := pub.Calls(); len(calls) != 1 || calls[0].Destination != "shelly/plug/command" {
		t.Errorf("published %v", calls)
	}
}

func TestDispatch_IsolatesFailingBranch(t *testing.T) {
	pub := newMockPublisher()
	pub.on("kitchen/plug/two/set", func(context.Context) error {
		return errors.New("broker unreachable")
	})
	devices := threePlugs()
	d := newTestDispatcher(pub, devices...)

	res, err := d.Dispatch(context.Background(), ActionRoomOn, Targets(devices, "kitchen"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}

	if len(res.Outcomes) != 3 {
		t.Fatalf("len(Outcomes) = %d, want 3", len(res.Outcomes))
	}
	for i, want := range []bool{true, false, true} {
		if res.Outcomes[i].Succeeded() != want {
			t.Errorf("Outcomes[%d].Succeeded() = %v, want %v", i, !want, want)
		}
	}

	failed := res.Failed()
	if len(failed) != 1 {
		t.Fatalf("len(Failed()) = %d, want 1", len(failed))
	}
	f := failed[0]
	if f.Kind != device.FailureDispatchFailed || f.Alias != "plug two" || f.Reason != ReasonTransport {
		t.Errorf("failure = %+v", f)
	}
	if !res.Partial() {
		t.Error("Partial() = false, want true")
	}
	if len(pub.Calls()) != 3 {
		t.Errorf("published %d commands, want 3", len(pub.Calls()))
	}
}

func TestDispatch_Timeout(t *testing.T) {
	pub := newMockPublisher()
	pub.on("kitchen/plug/one/set", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	devices := threePlugs()
	d := New(pub, device.NewCache(&staticDirectory{}), Config{PublishTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := d.Dispatch(context.Background(), ActionOff, Targets(devices, "kitchen"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch() took %v, want about the publish timeout", elapsed)
	}

	failed := res.Failed()
	if len(failed) != 1 || failed[0].Reason != ReasonTimeout {
		t.Fatalf("Failed() = %+v, want one timeout", failed)
	}
	if len(res.Succeeded()) != 2 {
		t.Errorf("len(Succeeded()) = %d, want 2", len(res.Succeeded()))
	}
}

func TestDispatch_TimeoutWhenPublisherIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pub := newMockPublisher()
	pub.on("kitchen/plug/one/set", func(context.Context) error {
		<-release
		return nil
	})
	devices := threePlugs()[:1]
	d := New(pub, device.NewCache(&staticDirectory{}), Config{PublishTimeout: 30 * time.Millisecond})

	res, _ := d.Dispatch(context.Background(), ActionOn, Targets(devices, "kitchen"))
	failed := res.Failed()
	if len(failed) != 1 || failed[0].Reason != ReasonTimeout {
		t.Fatalf("Failed() = %+v, want timeout", failed)
	}
	if !errors.Is(failed[0], ErrPublishTimeout) {
		t.Error("timeout failure does not wrap ErrPublishTimeout")
	}
}

func TestAwaitPublish_ResultAtDeadline(t *testing.T) {
	d := New(newMockPublisher(), device.NewCache(&staticDirectory{}), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Both the deadline and the result are ready; the result must win every time.
	for i := range 100 {
		errCh := make(chan error, 1)
		errCh <- nil
		if err := d.awaitPublish(ctx, errCh); err != nil {
			t.Fatalf("attempt %d: awaitPublish() error = %v, want nil", i, err)
		}
	}

	transport := errors.New("broker refused")
	errCh := make(chan error, 1)
	errCh <- transport
	if err := d.awaitPublish(ctx, errCh); !errors.Is(err, transport) {
		t.Errorf("awaitPublish() error = %v, want the publish error", err)
	}

	if err := d.awaitPublish(ctx, make(chan error, 1)); !errors.Is(err, ErrPublishTimeout) {
		t.Errorf("awaitPublish() with no result error = %v, want ErrPublishTimeout", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	pub := newMockPublisher()
	pub.on("kitchen/plug/three/set", func(context.Context) error {
		panic("nil map write")
	})
	devices := threePlugs()
	d := newTestDispatcher(pub, devices...)

	res, err := d.Dispatch(context.Background(), ActionRoomOn, Targets(devices, "kitchen"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	failed := res.Failed()
	if len(failed) != 1 || failed[0].Alias != "plug three" || failed[0].Reason != ReasonPanic {
		t.Errorf("Failed() = %+v, want plug three with panic reason", failed)
	}
}

func TestDispatch_InvalidDestination(t *testing.T) {
	pub := newMockPublisher()
	// Valid on its own, too long once the suffix is added
	long := newDevice(1, "a/"+strings.Repeat("b", device.MaxTopicLength-3), "long", "attic")
	d := newTestDispatcher(pub)

	res, _ := d.Dispatch(context.Background(), ActionOn, Targets([]device.Device{long}, "attic"))
	failed := res.Failed()
	if len(failed) != 1 || failed[0].Reason != ReasonInvalidDestination {
		t.Fatalf("Failed() = %+v, want invalid destination", failed)
	}
	if !errors.Is(failed[0], device.ErrInvalidTopic) {
		t.Error("failure does not wrap ErrInvalidTopic")
	}
	if len(pub.Calls()) != 0 {
		t.Errorf("published %v, want nothing", pub.Calls())
	}
}

func TestDispatch_RoomOffIdempotent(t *testing.T) {
	pub := newMockPublisher()
	lamp := newDevice(1, "bedroom/lamp", "lamp", "bedroom")
	d := newTestDispatcher(pub, lamp)

	var results []Result
	for range 2 {
		res, err := d.Dispatch(context.Background(), ActionRoomOff, Targets([]device.Device{lamp}, "bedroom"))
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		results = append(results, res)
	}

	for i, res := range results {
		if len(res.Succeeded()) != 1 || len(res.Failed()) != 0 {
			t.Errorf("dispatch %d: succeeded=%d failed=%d, want 1/0", i, len(res.Succeeded()), len(res.Failed()))
		}
	}
	for _, c := range pub.Calls() {
		if c.Payload != "OFF" {
			t.Errorf("payload = %q, want OFF", c.Payload)
		}
	}
}

func TestDispatch_SurvivesRequestCancellation(t *testing.T) {
	started := make(chan struct{})
	pub := newMockPublisher()
	done := make(chan error, 1)
	pub.on("bedroom/lamp/set", func(ctx context.Context) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		done <- ctx.Err()
		return nil
	})
	lamp := newDevice(1, "bedroom/lamp", "lamp", "bedroom")
	d := newTestDispatcher(pub, lamp)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := d.Dispatch(ctx, ActionOn, Targets([]device.Device{lamp}, "bedroom"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if branchErr := <-done; branchErr != nil {
		t.Errorf("branch context error = %v, want nil after request cancellation", branchErr)
	}
	if len(res.Succeeded()) != 1 {
		t.Errorf("len(Succeeded()) = %d, want 1", len(res.Succeeded()))
	}
}

func TestDispatch_NoTargets(t *testing.T) {
	pub := newMockPublisher()
	d := newTestDispatcher(pub)

	res, err := d.Dispatch(context.Background(), ActionRoomOn, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(res.Outcomes) != 0 || res.Partial() {
		t.Errorf("Result = %+v, want empty", res)
	}
}

func TestDispatch_Records(t *testing.T) {
	pub := newMockPublisher()
	pub.on("kitchen/plug/two/set", func(context.Context) error { return errors.New("boom") })
	rec := &mockRecorder{}
	devices := threePlugs()
	d := newTestDispatcher(pub, devices...)
	d.SetRecorder(rec)

	if _, err := d.Dispatch(context.Background(), ActionRoomOn, Targets(devices, "kitchen")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outcomes) != 3 {
		t.Fatalf("recorded %d outcomes, want 3", len(rec.outcomes))
	}
	failures := 0
	for _, o := range rec.outcomes {
		if o.Action != "room_on" || o.Room != "kitchen" {
			t.Errorf("recorded %+v", o)
		}
		if !o.Succeeded {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("recorded %d failures, want 1", failures)
	}
}

func TestDispatch_List(t *testing.T) {
	pub := newMockPublisher()
	d := newTestDispatcher(pub,
		newDevice(1, "t/1", "tv", "living room"),
		newDevice(2, "t/2", "lamp", "bedroom"),
		newDevice(3, "t/3", "fan", "bedroom"),
	)

	res, err := d.Dispatch(context.Background(), ActionList, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	var got []string
	for _, dev := range res.Devices {
		got = append(got, dev.Room+"/"+dev.Alias)
	}
	want := []string{"bedroom/fan", "bedroom/lamp", "living room/tv"}
	if !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
	if len(pub.Calls()) != 0 {
		t.Error("List published commands")
	}
}

func TestDispatch_ListDirectoryUnavailable(t *testing.T) {
	dir := &staticDirectory{err: errors.New("no such table")}
	d := New(newMockPublisher(), device.NewCache(dir), Config{})

	_, err := d.Dispatch(context.Background(), ActionList, nil)
	if device.KindOf(err) != device.FailureDirectoryUnavailable {
		t.Errorf("kind = %q, want %q", device.KindOf(err), device.FailureDirectoryUnavailable)
	}
}

func TestDispatch_Refresh(t *testing.T) {
	dir := &staticDirectory{devices: threePlugs()[:1]}
	cache := device.NewCache(dir)
	d := New(newMockPublisher(), cache, Config{})
	rec := &mockRecorder{}
	d.SetRecorder(rec)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	dir.set(threePlugs(), nil)

	res, err := d.Dispatch(context.Background(), ActionRefresh, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Refresh.Before != 1 || res.Refresh.After != 3 {
		t.Errorf("Refresh = %+v, want Before=1 After=3", res.Refresh)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.refreshes) != 1 || rec.refreshes[0].After != 3 {
		t.Errorf("recorded refreshes = %+v, want one with After=3", rec.refreshes)
	}
}

func TestDispatch_RefreshStale(t *testing.T) {
	dir := &staticDirectory{devices: threePlugs()}
	cache := device.NewCache(dir)
	d := New(newMockPublisher(), cache, Config{})
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	dir.set(nil, errors.New("database is locked"))

	res, err := d.Dispatch(context.Background(), ActionRefresh, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil in degraded mode", err)
	}
	if !res.Refresh.Stale || res.Refresh.After != 3 {
		t.Errorf("Refresh = %+v, want stale with 3 devices", res.Refresh)
	}
}

func TestDispatch_Help(t *testing.T) {
	pub := newMockPublisher()
	dir := &staticDirectory{err: errors.New("must not be queried")}
	d := New(pub, device.NewCache(dir), Config{})

	res, err := d.Dispatch(context.Background(), ActionHelp, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Action != ActionHelp || len(res.Outcomes) != 0 || len(res.Devices) != 0 {
		t.Errorf("Result = %+v, want empty help result", res)
	}
	if len(pub.Calls()) != 0 {
		t.Error("Help published commands")
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	d := newTestDispatcher(newMockPublisher())

	_, err := d.Dispatch(context.Background(), ActionUnknown, nil)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownAction", err)
	}
}

func TestTargets(t *testing.T) {
	devices := []device.Device{
		newDevice(1, "a/1", "lamp", "Kitchen"),
		newDevice(2, "a/2", "lamp", "bedroom"),
	}

	got := Targets(devices, "kitchen")
	if got[0].Elsewhere || !got[1].Elsewhere {
		t.Errorf("Targets() = %+v, want only the bedroom device elsewhere", got)
	}

	for _, tg := range Targets(devices, "") {
		if tg.Elsewhere {
			t.Error("no request room should mark nothing elsewhere")
		}
	}
}

func TestRecorders(t *testing.T) {
	if Recorders() != nil || Recorders(nil, nil) != nil {
		t.Error("Recorders() with no members should be nil")
	}

	single := &mockRecorder{}
	if got := Recorders(nil, single); got != Recorder(single) {
		t.Errorf("Recorders(nil, r) = %v, want r itself", got)
	}

	a, b := &mockRecorder{}, &mockRecorder{}
	r := Recorders(a, nil, b)
	r.WriteDispatchOutcome("on", "kitchen", true, time.Millisecond)
	r.WriteDirectoryRefresh(1, 2, false)
	for _, m := range []*mockRecorder{a, b} {
		if len(m.outcomes) != 1 || len(m.refreshes) != 1 {
			t.Errorf("member saw %d outcomes and %d refreshes, want 1 each", len(m.outcomes), len(m.refreshes))
		}
	}
}
