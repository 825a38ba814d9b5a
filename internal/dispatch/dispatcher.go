package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-switch/internal/device"
)

// Dispatch defaults.
const (
	// DefaultCommandSuffix is appended to a device topic to form its command destination.
	DefaultCommandSuffix = "/set"

	// DefaultPublishTimeout bounds a single command submission.
	DefaultPublishTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher submits one command to the transport.
//
// A nil error means the transport accepted the message; the device's
// physical state is never confirmed. Implementations should return when
// ctx ends, but the dispatcher does not rely on it.
type Publisher interface {
	PublishCommand(ctx context.Context, destination, payload string) error
}

// Recorder receives one call per settled command branch and one per
// completed refresh. Implementations must not block.
// *influxdb.Client satisfies it.
type Recorder interface {
	WriteDispatchOutcome(action, room string, succeeded bool, latency time.Duration)
	WriteDirectoryRefresh(before, after int, stale bool)
}

// Catalog is the device cache as seen by List and Refresh.
// *device.Cache satisfies it.
type Catalog interface {
	Get(ctx context.Context) (*device.Snapshot, error)
	Refresh(ctx context.Context) (device.RefreshStats, error)
}

// Config holds dispatcher settings. Zero values select the defaults.
type Config struct {
	CommandSuffix  string
	PublishTimeout time.Duration
}

// Dispatcher turns an action and its resolved targets into transport
// commands and aggregates the outcome.
//
// Thread Safety: Dispatch is safe for concurrent use. Dispatches share no
// state besides the catalog.
type Dispatcher struct {
	publisher Publisher
	catalog   Catalog
	recorder  Recorder
	suffix    string
	timeout   time.Duration
	logger    Logger
}

// New creates a dispatcher.
//
// Parameters:
//   - publisher: Transport for device commands
//   - catalog: Device cache used by List and Refresh
//   - cfg: Command suffix and per-command timeout
func New(publisher Publisher, catalog Catalog, cfg Config) *Dispatcher {
	if cfg.CommandSuffix == "" {
		cfg.CommandSuffix = DefaultCommandSuffix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Dispatcher{
		publisher: publisher,
		catalog:   catalog,
		suffix:    cfg.CommandSuffix,
		timeout:   cfg.PublishTimeout,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetRecorder sets an optional outcome recorder. Nil disables recording.
func (d *Dispatcher) SetRecorder(recorder Recorder) {
	d.recorder = recorder
}

// Dispatch carries out action against targets.
//
// For switch actions every target gets its own command branch; all branches
// start together and Dispatch returns only after each has settled. A branch
// failure is reported in the Result and never returned as an error.
// Branches are detached from ctx cancellation so a superseded request
// cannot leave a device mid-command.
//
// List and Refresh consult the catalog and ignore targets. Help does nothing.
//
// Returns:
//   - Result: The aggregate outcome
//   - error: Only from the catalog (List, Refresh) or for an unknown action
func (d *Dispatcher) Dispatch(ctx context.Context, action Action, targets []Target) (Result, error) {
	result := Result{Action: action}

	switch {
	case action.IsSwitch():
		result.Outcomes = d.fanOut(ctx, action, targets)
		return result, nil

	case action == ActionList:
		snap, err := d.catalog.Get(ctx)
		if err != nil {
			return result, err
		}
		result.Devices = snap.Devices()
		return result, nil

	case action == ActionRefresh:
		stats, err := d.catalog.Refresh(ctx)
		result.Refresh = stats
		if err != nil {
			return result, err
		}
		if d.recorder != nil {
			d.recorder.WriteDirectoryRefresh(stats.Before, stats.After, stats.Stale)
		}
		return result, nil

	case action == ActionHelp:
		return result, nil

	default:
		return result, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

// fanOut runs one branch per target and joins them all.
func (d *Dispatcher) fanOut(ctx context.Context, action Action, targets []Target) []Outcome {
	outcomes := make([]Outcome, len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	detached := context.WithoutCancel(ctx)
	start := time.Now()

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.send(detached, action, t)
		}()
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	d.logger.Info("dispatch complete",
		"action", action.String(),
		"devices", len(targets),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcomes
}

// send submits one command and converts every way it can end into an Outcome.
func (d *Dispatcher) send(ctx context.Context, action Action, t Target) (out Outcome) {
	start := time.Now()
	out.Target = t
	defer func() {
		out.Latency = time.Since(start)
		if d.recorder != nil {
			d.recorder.WriteDispatchOutcome(action.String(), t.Device.Room, out.Succeeded(), out.Latency)
		}
	}()

	destination := t.Device.Topic + d.suffix
	if err := device.ValidateTopic(destination); err != nil {
		d.logger.Warn("refusing invalid command destination", "alias", t.Device.Alias, "error", err)
		out.Failure = device.DispatchFailed(t.Device, ReasonInvalidDestination, err)
		return out
	}
	payload := t.Device.Payload(action.TurnsOn())

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// The publish runs apart so a publisher that ignores ctx cannot hold the branch past its timeout.
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%w: %v", ErrPublishPanic, r)
			}
		}()
		errCh <- d.publisher.PublishCommand(ctx, destination, payload)
	}()

	err := d.awaitPublish(ctx, errCh)
	if err == nil {
		d.logger.Debug("command published", "alias", t.Device.Alias, "room", t.Device.Room, "topic", destination, "payload", payload)
		return out
	}

	reason := ReasonTransport
	switch {
	case errors.Is(err, ErrPublishTimeout), errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, ErrPublishPanic):
		reason = ReasonPanic
	}
	d.logger.Warn("command failed",
		"alias", t.Device.Alias,
		"room", t.Device.Room,
		"topic", destination,
		"reason", reason,
		"error", err,
	)
	out.Failure = device.DispatchFailed(t.Device, reason, err)
	return out
}

// awaitPublish waits for the publish result or the branch deadline. A result
// that is ready when the deadline fires still wins.
func (d *Dispatcher) awaitPublish(ctx context.Context, errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		select {
		case err := <-errCh:
			return err
		default:
			return fmt.Errorf("%w after %s: %w", ErrPublishTimeout, d.timeout, ctx.Err())
		}
	}
}
