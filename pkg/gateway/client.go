package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/evosys/evo-runner/pkg/errors"
	"github.com/evosys/evo-runner/pkg/health"
	"github.com/evosys/evo-runner/pkg/resilience"
	"github.com/evosys/evo-runner/pkg/telemetry"
)

// ConnState is the connection lifecycle state. The Client is the only writer.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateRegistered   ConnState = "registered"
	StateConnected    ConnState = "connected"
)

// Identity is the registration identity, fixed for the process lifetime.
type Identity struct {
	AgentID      string
	Role         string
	Capabilities []string
	Skills       []string
}

// EventHandler receives inbound envelopes in wire order. Implementations
// must not block; the dispatcher runs handlers in their own goroutines.
type EventHandler func(ctx context.Context, env Envelope)

// Options tunes the connection manager. Zero values select defaults.
type Options struct {
	HeartbeatInterval   time.Duration
	RegistrationTimeout time.Duration
	ReconnectMinDelay   time.Duration
	ReconnectMaxDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.RegistrationTimeout == 0 {
		o.RegistrationTimeout = 10 * time.Second
	}
	if o.ReconnectMinDelay == 0 {
		o.ReconnectMinDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 60 * time.Second
	}
	return o
}

// Client maintains the session with the orchestrator. One Client per
// process; Run owns the state machine, everything else only calls Send.
type Client struct {
	baseURL  string
	identity Identity
	handler  EventHandler
	opts     Options
	backoff  resilience.RetryConfig
	prober   *health.Prober
	logger   *slog.Logger
	metrics  *telemetry.RunnerMetrics

	epoch atomic.Uint64

	mu     sync.Mutex
	state  ConnState
	sendCh chan Envelope
}

// NewClient creates a connection manager for the orchestrator at baseURL
// (http or https; the websocket endpoint is derived from it).
func NewClient(baseURL string, identity Identity, handler EventHandler, opts Options, logger *slog.Logger, metrics *telemetry.RunnerMetrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		handler:  handler,
		opts:     opts,
		backoff: resilience.DefaultRetryConfig().
			WithInitialDelay(opts.ReconnectMinDelay).
			WithMaxDelay(opts.ReconnectMaxDelay),
		prober:  health.NewProber(0, logger),
		logger:  logger,
		metrics: metrics,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current connection epoch. It increases by one per
// established session and never resets.
func (c *Client) Epoch() uint64 {
	return c.epoch.Load()
}

// Send queues an outbound envelope on the current epoch. Events queued while
// disconnected are dropped with an error; callers never retry across epochs.
func (c *Client) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to encode outbound event", err).
			WithContext("event", event)
	}

	c.mu.Lock()
	state, ch := c.state, c.sendCh
	c.mu.Unlock()

	if state != StateConnected || ch == nil {
		return errors.New(errors.CodeConnectionFailure, "not connected, outbound event dropped", nil).
			WithContext("event", event).
			WithRecoverable(true)
	}

	select {
	case ch <- Envelope{Event: event, Payload: raw}:
		return nil
	default:
		return errors.New(errors.CodeConnectionFailure, "outbound queue full, event dropped", nil).
			WithContext("event", event).
			WithRecoverable(true)
	}
}

// Run drives the connect/register/heartbeat loop until ctx is cancelled.
// Connection loss is never fatal: every failure path falls through to a
// backed-off reconnect with a fresh epoch and a fresh registration.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		registered, err := c.runEpoch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if registered {
			// A session that made it past registration resets the backoff.
			attempt = 0
		}
		if err != nil {
			re := errors.AsRunnerError(err)
			c.logger.Warn("session ended, reconnecting",
				"error_code", string(re.Code), "error", re.Error(), "attempt", attempt)
		}

		delay := c.backoff.Delay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runEpoch runs one connection epoch: dial, register, ack, steady state.
// Returns whether registration was acknowledged in this epoch.
func (c *Client) runEpoch(ctx context.Context) (bool, error) {
	c.setState(StateConnecting, nil)

	ws, _, err := websocket.Dial(ctx, c.wsURL(), nil)
	if err != nil {
		return false, errors.New(errors.CodeConnectionFailure, "failed to dial orchestrator", err).
			WithContext("url", c.wsURL()).
			WithRecoverable(true)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")
	defer c.setState(StateDisconnected, nil)

	epoch := c.epoch.Add(1)
	if epoch > 1 {
		c.metrics.RecordReconnect(ctx)
	}

	// Registration is the first outbound message of the epoch, written
	// before the writer goroutine exists so nothing can precede it.
	reg, err := json.Marshal(Registration{
		AgentID:      c.identity.AgentID,
		Role:         c.identity.Role,
		Capabilities: c.identity.Capabilities,
		Skills:       c.identity.Skills,
	})
	if err != nil {
		return false, errors.New(errors.CodeInternal, "failed to encode registration", err)
	}
	if err := wsjson.Write(ctx, ws, Envelope{Event: EventRegister, Payload: reg}); err != nil {
		return false, errors.New(errors.CodeConnectionFailure, "failed to send registration", err).
			WithRecoverable(true)
	}

	if err := c.awaitAck(ctx, ws); err != nil {
		return false, err
	}

	c.logger.Info("registered with orchestrator",
		"agent_id", c.identity.AgentID, "role", c.identity.Role, "epoch", epoch)

	sendCh := make(chan Envelope, 64)
	done := make(chan struct{})
	c.setState(StateConnected, sendCh)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ws, sendCh, done)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx, done)
	}()
	// Release the writer and heartbeat before waiting on them.
	defer wg.Wait()
	defer close(done)

	// Startup probe of the orchestrator itself. A failed probe is reported
	// like any other; it never blocks the session.
	go c.startupProbe(ctx)

	return true, c.readLoop(ctx, ws)
}

// awaitAck waits for the agent:registered acknowledgement with a bounded
// deadline. Inbound events arriving before the ack are handed to the
// handler; the orchestrator may start broadcasting immediately.
func (c *Client) awaitAck(ctx context.Context, ws *websocket.Conn) error {
	c.setState(StateRegistered, nil)

	ackCtx, cancel := context.WithTimeout(ctx, c.opts.RegistrationTimeout)
	defer cancel()

	for {
		var env Envelope
		if err := wsjson.Read(ackCtx, ws, &env); err != nil {
			if ackCtx.Err() == context.DeadlineExceeded {
				return errors.New(errors.CodeRegistrationTimeout, "registration not acknowledged", err).
					WithContext("timeout", c.opts.RegistrationTimeout.String()).
					WithRecoverable(true)
			}
			return errors.New(errors.CodeConnectionFailure, "connection lost awaiting registration ack", err).
				WithRecoverable(true)
		}
		if env.Event == EventRegistered {
			return nil
		}
		if c.handler != nil {
			c.handler(ctx, env)
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return errors.New(errors.CodeConnectionFailure, "connection lost", err).
				WithRecoverable(true)
		}
		if c.handler != nil {
			c.handler(ctx, env)
		}
	}
}

func (c *Client) writeLoop(ws *websocket.Conn, sendCh chan Envelope, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, ws, env)
			cancel()
			if err != nil {
				c.logger.Warn("outbound write failed", "event", env.Event, "error", err)
				return
			}
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Send(EventStatus, Status{AgentID: c.identity.AgentID, Status: "alive"}); err != nil {
				return
			}
			c.metrics.RecordHeartbeat(ctx)
		}
	}
}

// startupProbe checks the orchestrator's own health endpoint once per epoch
// and reports the result upstream.
func (c *Client) startupProbe(ctx context.Context) {
	result := c.prober.Probe(ctx, health.Check{URL: c.baseURL + "/health"})
	c.metrics.RecordProbe(ctx, result.Reachable)
	if err := c.Send(EventHealth, HealthReport{
		AgentID: c.identity.AgentID,
		Results: []health.Result{result},
	}); err != nil {
		c.logger.Warn("failed to report startup probe", "error", err)
	}
}

func (c *Client) setState(state ConnState, sendCh chan Envelope) {
	c.mu.Lock()
	c.state = state
	c.sendCh = sendCh
	c.mu.Unlock()
}

// wsURL derives the websocket endpoint from the orchestrator base URL.
func (c *Client) wsURL() string {
	url := c.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
