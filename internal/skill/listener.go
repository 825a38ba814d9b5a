package skill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/mqtt"
)

// Broker is the MQTT surface the listener needs. *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Handler processes one directive. *Skill satisfies it.
type Handler interface {
	Handle(ctx context.Context, d Directive) (Response, error)
}

// ListenerConfig holds the listener's topics and thresholds.
type ListenerConfig struct {
	// RequestTopic is subscribed for incoming directives.
	RequestTopic string

	// ResponseTopic receives replies for directives without reply_to.
	ResponseTopic string

	// MinCertainty gates directives; lower certainties are dropped.
	// Zero accepts everything.
	MinCertainty float64

	QoS byte
}

// inflight is a request still being handled.
type inflight struct {
	id     string
	cancel context.CancelFunc
}

// Listener feeds directives from MQTT to a Handler and publishes replies.
//
// Each directive is handled in its own goroutine. A new directive for the
// same reply topic supersedes the one in flight: the older request's
// context is cancelled and its reply is dropped, while any commands it
// already submitted are left to finish.
type Listener struct {
	broker  Broker
	handler Handler
	cfg     ListenerConfig
	logger  Logger

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight map[string]*inflight // keyed by reply topic
	wg       sync.WaitGroup
}

// NewListener creates a listener. Call Start to subscribe.
func NewListener(broker Broker, handler Handler, cfg ListenerConfig) *Listener {
	return &Listener{
		broker:   broker,
		handler:  handler,
		cfg:      cfg,
		logger:   noopLogger{},
		inflight: make(map[string]*inflight),
	}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start subscribes to the request topic. Requests are cancelled when ctx
// ends or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.mu.Unlock()

	if err := l.broker.Subscribe(l.cfg.RequestTopic, l.cfg.QoS, l.handleMessage); err != nil {
		l.mu.Lock()
		l.running = false
		l.cancel()
		l.mu.Unlock()
		return fmt.Errorf("subscribing to %s: %w", l.cfg.RequestTopic, err)
	}

	l.logger.Info("listening for directives", "topic", l.cfg.RequestTopic, "min_certainty", l.cfg.MinCertainty)
	return nil
}

// Stop unsubscribes, cancels in-flight requests, and waits for their
// handlers to return.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	if err := l.broker.Unsubscribe(l.cfg.RequestTopic); err != nil {
		l.logger.Warn("unsubscribing from request topic", "topic", l.cfg.RequestTopic, "error", err)
	}

	l.wg.Wait()
	l.logger.Info("directive listener stopped")
}

// handleMessage is the MQTT callback for the request topic.
func (l *Listener) handleMessage(_ string, payload []byte) error {
	d, err := ParseDirective(payload)
	if err != nil {
		l.logger.Warn("dropping malformed directive", "error", err)
		return nil
	}

	if d.Certainty < l.cfg.MinCertainty {
		l.logger.Debug("dropping low-certainty directive",
			"id", d.ID,
			"action", d.Action,
			"certainty", d.Certainty,
			"min_certainty", l.cfg.MinCertainty,
		)
		return nil
	}

	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = l.cfg.ResponseTopic
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(l.ctx)
	req := &inflight{id: d.ID, cancel: cancel}
	if prev := l.inflight[replyTo]; prev != nil {
		l.logger.Debug("superseding in-flight request", "id", prev.id, "by", d.ID, "reply_to", replyTo)
		prev.cancel()
	}
	l.inflight[replyTo] = req
	l.wg.Add(1)
	l.mu.Unlock()

	go l.process(ctx, req, replyTo, d)
	return nil
}

// process handles one directive and publishes its reply unless superseded.
func (l *Listener) process(ctx context.Context, req *inflight, replyTo string, d Directive) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		if l.inflight[replyTo] == req {
			delete(l.inflight, replyTo)
		}
		l.mu.Unlock()
		req.cancel()
	}()

	resp, err := l.handler.Handle(ctx, d)
	if errors.Is(err, ErrSuperseded) || (err == nil && ctx.Err() != nil) {
		l.logger.Debug("dropping reply for superseded request", "id", d.ID)
		return
	}
	if err != nil {
		l.logger.Error("handling directive", "id", d.ID, "error", err)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		l.logger.Error("encoding reply", "id", d.ID, "error", err)
		return
	}
	if err := l.broker.Publish(replyTo, payload, l.cfg.QoS, false); err != nil {
		l.logger.Error("publishing reply", "id", d.ID, "topic", replyTo, "error", err)
		return
	}
	l.logger.Debug("reply sent", "id", d.ID, "kind", string(resp.Kind), "topic", replyTo)
}
