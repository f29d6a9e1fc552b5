// Package dispatch routes inbound envelopes to role handlers. Routing is
// static for the process lifetime: at most one handler matches any envelope,
// and unmatched envelopes are broadcast noise to be dropped, not errors.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/soul"
	"github.com/evosys/evo-runner/pkg/telemetry"
)

// Emitter sends outbound events. Satisfied by the gateway client; handlers
// never touch the connection directly.
type Emitter interface {
	Send(event string, payload any) error
}

// Handler processes one inbound envelope. Handlers run in their own
// goroutine and emit results through the Emitter they were built with.
type Handler func(ctx context.Context, env gateway.Envelope)

// Dispatcher holds the routing table for one role.
type Dispatcher struct {
	role     soul.Role
	handlers map[string]Handler
	logger   *slog.Logger
	metrics  *telemetry.RunnerMetrics
}

// New creates a dispatcher for the given role with an empty table.
func New(role soul.Role, logger *slog.Logger, metrics *telemetry.RunnerMetrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		role:     role,
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle registers the handler for an event. One handler per event; the
// table is fixed before the connection starts, so no locking.
func (d *Dispatcher) Handle(event string, h Handler) {
	d.handlers[event] = h
}

// Dispatch routes one envelope. A matched handler runs in its own goroutine
// so a slow or stuck handler never stalls the read loop or the heartbeat.
// Returns whether a handler accepted the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, env gateway.Envelope) bool {
	h, ok := d.match(env)
	if !ok {
		d.logger.Debug("no handler for event, dropped", "event", env.Event, "role", d.role.String())
		d.metrics.RecordDispatch(ctx, env.Event, false)
		return false
	}

	d.metrics.RecordDispatch(ctx, env.Event, true)
	go d.invoke(ctx, h, env)
	return true
}

// match finds the single handler for an envelope. pipeline:next additionally
// requires the payload stage to equal this role's pipeline stage; stage
// assignments for other roles arrive on the same wire and must not run here.
func (d *Dispatcher) match(env gateway.Envelope) (Handler, bool) {
	h, ok := d.handlers[env.Event]
	if !ok {
		return nil, false
	}

	if env.Event == gateway.EventPipelineNext {
		var next gateway.PipelineNext
		if err := json.Unmarshal(env.Payload, &next); err != nil {
			d.logger.Warn("malformed pipeline:next payload, dropped", "error", err)
			return nil, false
		}
		stage := d.role.Stage()
		if stage == "" || next.Stage != stage {
			return nil, false
		}
	}

	return h, true
}

// invoke runs a handler with panic recovery. A panicking handler loses its
// own event only; the session and later dispatches are unaffected.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, env gateway.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"event", env.Event, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(ctx, env)
}
