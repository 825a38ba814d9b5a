package skill

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-switch/internal/audit"
	"github.com/nerrad567/gray-logic-switch/internal/device"
	"github.com/nerrad567/gray-logic-switch/internal/dispatch"
	"github.com/nerrad567/gray-logic-switch/internal/response"
)

// fallbackText is sent when even the error template cannot be rendered.
const fallbackText = "Sorry, I couldn't process your request."

// auditTimeout bounds writing the audit trail for one directive.
const auditTimeout = 2 * time.Second

// Logger defines the logging interface used by the skill.
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

// Resolver maps a device reference to devices. *device.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, q device.Query) ([]device.Device, error)
}

// Dispatcher executes an action. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, action dispatch.Action, targets []dispatch.Target) (dispatch.Result, error)
}

// Composer renders reply text. *response.Composer satisfies it.
type Composer interface {
	Render(kind response.Kind, data response.Context) (string, error)
}

// Auditor stores the commands sent for a directive.
// *audit.SQLiteRepository satisfies it.
type Auditor interface {
	CreateBatch(ctx context.Context, entries []audit.Entry) error
}

// Skill handles one directive at a time: resolve, dispatch, compose.
//
// Thread Safety: Handle is safe for concurrent use.
type Skill struct {
	resolver   Resolver
	dispatcher Dispatcher
	composer   Composer
	auditor    Auditor
	logger     Logger
}

// New creates a skill from its collaborators.
func New(resolver Resolver, dispatcher Dispatcher, composer Composer) *Skill {
	return &Skill{
		resolver:   resolver,
		dispatcher: dispatcher,
		composer:   composer,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the skill.
func (s *Skill) SetLogger(logger Logger) {
	s.logger = logger
}

// SetAuditor sets an optional audit trail for sent commands.
func (s *Skill) SetAuditor(a Auditor) {
	s.auditor = a
}

// Handle processes d and returns the reply to send.
//
// Device failures (not found, ambiguous, empty room, unreachable devices)
// become worded replies with a nil error. Directory and internal faults are
// logged and answered with the generic error reply.
//
// When ctx is cancelled before the reply is ready, Handle returns
// ErrSuperseded. Commands already submitted still run to completion.
func (s *Skill) Handle(ctx context.Context, d Directive) (Response, error) {
	action, err := dispatch.ParseAction(d.Action)
	if err != nil {
		s.logger.Warn("unsupported action", "id", d.ID, "action", d.Action)
		return s.reply(d, response.KindUnsupported, response.Context{}), nil
	}

	var targets []dispatch.Target
	var missing []string
	if action.IsSwitch() {
		var devices []device.Device
		devices, missing, err = s.resolveDevices(ctx, d, action)
		if err != nil {
			return s.fail(ctx, d, action, err)
		}
		if len(devices) == 0 && len(missing) > 0 {
			s.logger.Info("request not fulfilled", "id", d.ID, "action", action.String(), "missing", missing)
			return s.reply(d, response.KindNotFound, response.Context{Name: missing[0], Missing: missing}), nil
		}
		targets = dispatch.Targets(devices, d.Room)
	}

	if ctx.Err() != nil {
		return Response{}, ErrSuperseded
	}

	res, err := s.dispatcher.Dispatch(ctx, action, targets)
	if err != nil {
		return s.fail(ctx, d, action, err)
	}
	s.recordCommands(ctx, d, res)
	if ctx.Err() != nil {
		s.logger.Debug("request superseded after dispatch", "id", d.ID, "action", action.String())
		return Response{}, ErrSuperseded
	}

	if res.Refresh.Stale {
		s.logger.Warn("refresh kept stale device snapshot", "id", d.ID, "error", res.Refresh.Warning)
	}

	kind, data := response.FromResult(res)
	data.Missing = missing
	return s.reply(d, kind, data), nil
}

// resolveDevices finds the devices a switch directive targets.
//
// Room actions, and on/off without a named device, take the whole room. A
// single named device resolves as is, so its failure becomes the reply.
// With several names each is resolved in turn; a name that matches nothing
// is returned in missing while the rest go ahead. Any other failure ends
// the request. Devices named twice are switched once.
func (s *Skill) resolveDevices(ctx context.Context, d Directive, action dispatch.Action) (devices []device.Device, missing []string, err error) {
	refs := d.References()
	if action.RoomScoped() || len(refs) == 0 {
		devices, err = s.resolver.Resolve(ctx, device.Query{Room: d.Room})
		return devices, nil, err
	}
	if len(refs) == 1 {
		devices, err = s.resolver.Resolve(ctx, refs[0].query(d.Room))
		return devices, nil, err
	}

	seen := make(map[int64]bool)
	for _, ref := range refs {
		found, err := s.resolver.Resolve(ctx, ref.query(d.Room))
		if err != nil {
			switch device.KindOf(err) {
			case device.FailureDeviceNotFound, device.FailureNoDevicesInRoom:
				s.logger.Debug("device reference matched nothing", "id", d.ID, "name", ref.Name, "generic", ref.Generic)
				missing = append(missing, ref.Name)
				continue
			}
			return nil, nil, err
		}
		for _, dev := range found {
			if !seen[dev.ID] {
				seen[dev.ID] = true
				devices = append(devices, dev)
			}
		}
	}
	return devices, missing, nil
}

// recordCommands audits every command branch of res. The commands were sent
// even if ctx has since been cancelled, so the write ignores cancellation.
func (s *Skill) recordCommands(ctx context.Context, d Directive, res dispatch.Result) {
	if s.auditor == nil || len(res.Outcomes) == 0 {
		return
	}

	entries := make([]audit.Entry, 0, len(res.Outcomes))
	for _, out := range res.Outcomes {
		dev := out.Target.Device
		e := audit.Entry{
			RequestID: d.ID,
			Action:    res.Action.String(),
			DeviceID:  dev.ID,
			Alias:     dev.Alias,
			Room:      dev.Room,
			Topic:     dev.Topic,
			Outcome:   audit.OutcomeSuccess,
			Latency:   out.Latency,
		}
		if out.Failure != nil {
			e.Outcome = audit.OutcomeFailure
			e.Reason = out.Failure.Reason
		}
		entries = append(entries, e)
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.auditor.CreateBatch(auditCtx, entries); err != nil {
		s.logger.Warn("writing audit trail", "id", d.ID, "commands", len(entries), "error", err)
	}
}

// fail turns a resolve or dispatch error into a reply.
func (s *Skill) fail(ctx context.Context, d Directive, action dispatch.Action, err error) (Response, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return Response{}, ErrSuperseded
	}

	f := device.AsFailure(err)
	if f.Fatal() {
		s.logger.Error("request failed", "id", d.ID, "action", action.String(), "kind", string(f.Kind), "error", err)
	} else {
		s.logger.Info("request not fulfilled", "id", d.ID, "action", action.String(), "kind", string(f.Kind), "error", err)
	}

	kind, data := response.FromFailure(f, action)
	return s.reply(d, kind, data), nil
}

// reply renders the response text, falling back to a fixed sentence.
func (s *Skill) reply(d Directive, kind response.Kind, data response.Context) Response {
	text, err := s.composer.Render(kind, data)
	if err != nil {
		s.logger.Error("rendering response failed", "id", d.ID, "kind", string(kind), "error", err)
		return Response{ID: d.ID, Kind: response.KindError, Text: fallbackText}
	}
	return Response{ID: d.ID, Kind: kind, Text: text}
}
