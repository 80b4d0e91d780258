package socketmode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxReconnectAttempts = 5

	// Reconnection backoff: 2^min(attempts, maxBackoffExponent) * backoffUnit.
	maxBackoffExponent = 5
	backoffUnit        = time.Second

	tracerName = "github.com/tzrikka/slackwire/pkg/socketmode"
)

// URLOpener generates single-use Socket Mode WebSocket URLs ("wss://...").
// In practice, this is a call to Slack's [apps.connections.open] API method.
// An empty URL without an error is treated as a missing URL.
//
// [apps.connections.open]: https://docs.slack.dev/reference/methods/apps.connections.open
type URLOpener interface {
	OpenConnection(ctx context.Context) (string, error)
}

// URLOpenerFunc is an adapter to allow the use of ordinary functions as [URLOpener]s.
type URLOpenerFunc func(ctx context.Context) (string, error)

func (f URLOpenerFunc) OpenConnection(ctx context.Context) (string, error) {
	return f(ctx)
}

// Client receives Socket Mode envelopes from Slack, dispatches them to
// registered [Handler]s, acknowledges them, and recovers from connection
// losses. It owns at most one authoritative [Connection] at a time,
// and replaces it (never mutates it) when reconnecting.
type Client struct {
	opener     URLOpener
	dialer     *websocket.Dialer
	maxRetries int
	backoff    time.Duration
	metrics    *metrics
	tracer     trace.Tracer

	conn     atomic.Pointer[Connection]
	handlers registry
	autoAck  atomic.Bool
	running  atomic.Bool
	active   atomic.Bool
	state    atomic.Int32
}

// Option customizes a [Client] in [New].
type Option func(*Client)

// WithMaxReconnectAttempts sets the number of consecutive failed connection
// attempts after which [Client.Start] gives up. The default is 5.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithDialer sets the WebSocket dialer of all the client's connections.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithRegisterer registers the client's Prometheus metrics. By
// default they are registered with a private, unexposed registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = newMetrics(reg)
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for dispatch
// spans. By default the global provider is used (a no-op unless configured).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New initializes an idle Socket Mode [Client], with auto-acknowledgment enabled.
// Call [Client.Start] to connect and process envelopes.
func New(opener URLOpener, opts ...Option) *Client {
	c := &Client{
		opener:     opener,
		maxRetries: DefaultMaxReconnectAttempts,
		backoff:    backoffUnit,
	}
	c.autoAck.Store(true)

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	if c.tracer == nil {
		c.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}

	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// SetAutoAcknowledge enables or disables automatic acknowledgment of envelopes
// after their handlers return. When disabled, the caller must call
// [Client.Acknowledge] or [Client.AcknowledgeWithPayload] for each envelope.
func (c *Client) SetAutoAcknowledge(enabled bool) {
	c.autoAck.Store(enabled)
}

func (c *Client) AutoAcknowledge() bool {
	return c.autoAck.Load()
}

// Connect opens a new connection and makes it the client's authoritative
// one, replacing (and closing) the previous one, if there was one.
func (c *Client) Connect(ctx context.Context) error {
	l := zerolog.Ctx(ctx)

	url, err := c.opener.OpenConnection(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("failed to generate Socket Mode WebSocket URL")
		return &Error{Reason: "failed to open connection", Err: err}
	}
	if url == "" {
		l.Warn().Msg("no WebSocket URL in Socket Mode connection response")
		return &Error{Reason: "no WebSocket URL in response"}
	}

	conn := NewConnection(url, c.dialer)
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	if prev := c.conn.Swap(conn); prev != nil {
		_ = prev.Disconnect()
	}

	c.metrics.connects.Inc()
	c.metrics.connected.Set(1)
	return nil
}

// Disconnect stops [Client.Start] (at the beginning of its next loop
// iteration), and closes the current connection, which also unblocks
// a pending receive. It is safe to call from any goroutine.
func (c *Client) Disconnect() error {
	c.running.Store(false)
	c.metrics.connected.Set(0)

	if conn := c.conn.Load(); conn != nil {
		return conn.Disconnect()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	conn := c.conn.Load()
	return conn != nil && conn.IsConnected()
}

// On registers a handler for envelopes of the given message type. Handlers of
// the same type are called in registration order. This is safe to call from any
// goroutine, including while [Client.Start] is running, and from within handlers.
//
// Control message types ("hello" and "disconnect") are consumed by the client,
// so handlers for them are ignored.
func (c *Client) On(msgType MessageType, h Handler) {
	if msgType.IsControl() {
		log.Warn().Str("message_type", msgType.String()).
			Msg("ignoring handler registration for Socket Mode control message")
		return
	}
	c.handlers.add(msgType.String(), h)
}

func (c *Client) OnEventsAPI(f HandlerFunc) {
	c.On(TypeEventsAPI, f)
}

func (c *Client) OnSlashCommands(f HandlerFunc) {
	c.On(TypeSlashCommands, f)
}

func (c *Client) OnInteractive(f HandlerFunc) {
	c.On(TypeInteractive, f)
}

func (c *Client) OnAppMention(f HandlerFunc) {
	c.On(TypeAppMention, f)
}

// Start connects (if needed), and runs the receive loop until [Client.Disconnect]
// is called or the context is canceled, in which case it returns nil. It returns
// an error if the number of consecutive failed connection attempts reaches the
// client's maximum, or if a WebSocket transport error occurs.
//
// Only one call to Start may run at a time.
func (c *Client) Start(ctx context.Context) error {
	if !c.active.CompareAndSwap(false, true) {
		return errors.New("socket mode client is already running")
	}
	defer c.active.Store(false)

	c.running.Store(true)
	stop := context.AfterFunc(ctx, func() {
		_ = c.Disconnect()
	})
	defer stop()

	l := zerolog.Ctx(ctx)
	attempts := 0
	c.setState(StateConnecting)

	for {
		// The context's AfterFunc calls Disconnect in its own goroutine.
		if !c.running.Load() || ctx.Err() != nil {
			l.Debug().Msg("Socket Mode client stopped")
			c.stop()
			return nil
		}

		if !c.IsConnected() {
			c.metrics.connected.Set(0)
			if attempts >= c.maxRetries {
				l.Error().Int("attempts", attempts).Msg("Socket Mode client giving up on reconnecting")
				c.stop()
				return &Error{Reason: "max reconnection attempts reached"}
			}

			if err := c.Connect(ctx); err != nil {
				attempts++
				c.metrics.connectErrors.Inc()
				if attempts < c.maxRetries {
					d := c.backoffDelay(attempts)
					l.Warn().Err(err).Int("attempt", attempts).Dur("backoff", d).
						Msg("Socket Mode connection attempt failed")
					sleep(ctx, d)
				}
				continue
			}

			// Recheck the stop flag: a Disconnect during Connect
			// may have missed the connection that was just swapped in.
			attempts = 0
			continue
		}

		c.setState(StateRunning)
		conn := c.conn.Load()
		e, err := conn.Receive()
		if err != nil {
			if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrMalformedEnvelope) {
				l.Warn().Err(err).Str("conn_id", conn.ID()).Msg("skipping Socket Mode message")
				continue
			}
			c.stop()
			return err
		}

		if e == nil { // Connection closed.
			c.setState(StateReconnecting)
			continue
		}

		switch e.Kind() {
		case TypeHello:
			l.Debug().Str("conn_id", conn.ID()).Int("num_connections", e.NumConnections).
				RawJSON("debug_info", rawOrNull(e.DebugInfo)).Msg("received Socket Mode hello message")

		case TypeDisconnect:
			l.Debug().Str("conn_id", conn.ID()).Str("reason", e.Reason).
				RawJSON("debug_info", rawOrNull(e.DebugInfo)).Msg("received Socket Mode disconnect message")
			c.metrics.serverRequests.Inc()
			c.setState(StateReconnecting)
			_ = conn.Disconnect()

		default:
			c.processRequest(ctx, conn, *e)
		}
	}
}

// stop marks the end of a [Client.Start] call, and closes the current
// connection in case one was opened after [Client.Disconnect] was called.
func (c *Client) stop() {
	c.setState(StateStopped)
	if conn := c.conn.Load(); conn != nil {
		_ = conn.Disconnect()
	}
	c.metrics.connected.Set(0)
}

// backoffDelay returns the capped exponential delay after the given
// number of consecutive failed connection attempts (without jitter).
func (c *Client) backoffDelay(attempts int) time.Duration {
	return c.backoff << min(attempts, maxBackoffExponent)
}

// sleep pauses the current goroutine for the given duration,
// or until the context is canceled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// processRequest calls all the handlers of the envelope's message type, in
// registration order, and then acknowledges it (if auto-acknowledgment is
// enabled). Handler errors and panics are logged, not propagated.
func (c *Client) processRequest(ctx context.Context, conn *Connection, e Envelope) {
	l := zerolog.Ctx(ctx).With().Str("conn_id", conn.ID()).Str("message_type", e.Type).
		Str("envelope_id", e.EnvelopeID).Logger()
	ctx = l.WithContext(ctx)

	ctx, span := c.startSpan(ctx, e)
	defer span.End()

	c.metrics.envelopes.WithLabelValues(e.Kind().String()).Inc()

	handlers := c.handlers.get(e.Type)
	if len(handlers) == 0 {
		l.Debug().Msg("no handlers for Socket Mode envelope")
	}
	for i, h := range handlers {
		if err := c.invoke(ctx, h, e); err != nil {
			l.Err(err).Int("handler", i).Msg("Socket Mode handler error")
			c.metrics.handlerErrors.WithLabelValues(e.Kind().String()).Inc()
			recordError(span, err)
		}
	}

	if !c.autoAck.Load() {
		return
	}
	if e.EnvelopeID == "" {
		l.Warn().Msg("not acknowledging Socket Mode envelope without ID")
		return
	}

	if err := conn.SendAck(Ack{EnvelopeID: e.EnvelopeID}); err != nil {
		l.Err(err).Msg("failed to acknowledge Socket Mode envelope")
		c.metrics.ackErrors.Inc()
		recordError(span, err)
		return
	}
	c.metrics.acks.Inc()
}

// invoke calls a single handler, and converts panics into errors.
func (c *Client) invoke(ctx context.Context, h Handler, e Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, e)
}

// Acknowledge sends an acknowledgment without a payload for the given envelope ID.
// Use this when auto-acknowledgment is disabled. It may be called from any goroutine.
func (c *Client) Acknowledge(ctx context.Context, envelopeID string) error {
	return c.ack(ctx, Ack{EnvelopeID: envelopeID})
}

// AcknowledgeWithPayload sends an acknowledgment with a JSON-serializable payload for
// the given envelope ID, if the envelope's "accepts_response_payload" field is true.
func (c *Client) AcknowledgeWithPayload(ctx context.Context, envelopeID string, payload any) error {
	return c.ack(ctx, Ack{EnvelopeID: envelopeID, Payload: payload})
}

func (c *Client) ack(ctx context.Context, a Ack) error {
	conn := c.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SendAck(a); err != nil {
		zerolog.Ctx(ctx).Err(err).Str("envelope_id", a.EnvelopeID).
			Msg("failed to acknowledge Socket Mode envelope")
		c.metrics.ackErrors.Inc()
		return err
	}

	c.metrics.acks.Inc()
	return nil
}

func rawOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
