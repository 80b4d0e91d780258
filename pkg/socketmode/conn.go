package socketmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second
)

// Connection owns exactly one WebSocket transport to a Socket Mode URL,
// and translates between WebSocket frames and [Envelope]s / [Ack]s.
//
// It is either connected or disconnected. A Connection may be reconnected
// after it was disconnected, but the [Client] never does that: it replaces
// lost connections with new ones, since Socket Mode URLs are single-use.
type Connection struct {
	id     string
	url    string
	dialer *websocket.Dialer

	// Nil when disconnected. The logger is
	// replaced together with the transport.
	ws     *websocket.Conn
	logger zerolog.Logger
	wsMu   sync.Mutex

	// Gorilla supports at most one concurrent writer
	// (control frames excluded), but acks may be sent
	// from any goroutine, not just the receive loop.
	writeMu sync.Mutex
}

// NewConnection initializes a disconnected [Connection] to the given
// WebSocket URL. If the dialer is nil, [websocket.DefaultDialer] is used.
func NewConnection(url string, dialer *websocket.Dialer) *Connection {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Connection{
		id:     shortuuid.New(),
		url:    url,
		dialer: dialer,
		logger: zerolog.Nop(),
	}
}

// ID is a random identifier of this connection, for logging and debugging.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) URL() string {
	return c.url
}

// Connect performs the WebSocket handshake. The connection is
// marked as connected only if the handshake is successful.
func (c *Connection) Connect(ctx context.Context) error {
	l := zerolog.Ctx(ctx).With().Str("conn_id", c.id).Logger()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		l.Err(err).Msg("failed to connect to Socket Mode WebSocket")
		return &Error{Reason: "failed to connect", Err: err}
	}

	ws.SetPingHandler(pingHandler(ws, l))
	ws.SetCloseHandler(closeHandler(ws, l))

	c.wsMu.Lock()
	prev := c.ws
	c.ws = ws
	c.logger = l
	c.wsMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	l.Debug().Msg("connected to Socket Mode WebSocket")
	return nil
}

// pingHandler responds to "Ping" control frames with "Pong" control
// frames that carry identical payloads. This runs inside [websocket.Conn.ReadMessage],
// so pings never surface to the caller of [Connection.Receive].
func pingHandler(ws *websocket.Conn, l zerolog.Logger) func(string) error {
	return func(data string) error {
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			l.Err(err).Str("payload", data).Msg("failed to send WebSocket pong control frame")
			return nil
		}
		l.Trace().Str("payload", data).Msg("sent WebSocket pong control frame")
		return nil
	}
}

// closeHandler logs "Close" control frames, and then
// responds to them, like gorilla's default close handler.
func closeHandler(ws *websocket.Conn, l zerolog.Logger) func(int, string) error {
	return func(code int, reason string) error {
		l.Debug().Str("close_status", closeStatus(code)).Str("close_reason", reason).
			Msg("received WebSocket close control frame")
		msg := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		return nil
	}
}

// Disconnect closes the WebSocket transport, if it's open.
// It is idempotent, and always leaves the connection disconnected.
func (c *Connection) Disconnect() error {
	ws, l := c.detach(nil)
	if ws == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))

	if err := ws.Close(); err != nil {
		return &Error{Reason: "failed to close connection", Err: err}
	}

	l.Debug().Msg("disconnected from Socket Mode WebSocket")
	return nil
}

// detach marks the connection as disconnected, and returns the previous
// transport and its logger. If expected isn't nil, it detaches only that
// specific transport.
func (c *Connection) detach(expected *websocket.Conn) (*websocket.Conn, zerolog.Logger) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	ws := c.ws
	if expected != nil && ws != expected {
		return nil, c.logger
	}
	c.ws = nil
	return ws, c.logger
}

func (c *Connection) current() (*websocket.Conn, zerolog.Logger) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	return c.ws, c.logger
}

func (c *Connection) IsConnected() bool {
	ws, _ := c.current()
	return ws != nil
}

// Receive blocks until the next application message arrives, and decodes it.
//
// It returns (nil, nil) when the connection is closed: by the server (with a
// close frame or without one), or by a concurrent call to [Connection.Disconnect].
// Ping frames are answered transparently, and binary frames are skipped.
func (c *Connection) Receive() (*Envelope, error) {
	ws, l := c.current()
	if ws == nil {
		return nil, ErrNotConnected
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return nil, c.readError(ws, err)
		}

		if msgType != websocket.TextMessage {
			l.Trace().Int("opcode", msgType).Int("length", len(data)).
				Msg("skipped non-text WebSocket message")
			continue
		}

		l.Trace().Bytes("data", data).Msg("received WebSocket text message")

		e := new(Envelope)
		if err := json.Unmarshal(data, e); err != nil {
			return nil, &Error{Reason: "failed to decode envelope", Err: fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)}
		}
		return e, nil
	}
}

// readError classifies a read error: closures are normal (nil),
// anything else is a transport error. Either way, the
// transport can't be read again, so it is detached.
func (c *Connection) readError(ws *websocket.Conn, err error) error {
	detached, l := c.detach(ws)
	if detached == nil {
		// Already detached by [Connection.Disconnect].
		return nil
	}
	_ = ws.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		l.Debug().Str("close_status", closeStatus(ce.Code)).Str("close_reason", ce.Text).
			Msg("Socket Mode WebSocket closed")
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		l.Debug().Msg("Socket Mode WebSocket stream ended")
		return nil
	}

	l.Err(err).Msg("failed to read from Socket Mode WebSocket")
	return &Error{Reason: "WebSocket read error", Err: err}
}

// SendAck serializes the given acknowledgment, and sends it as a text message.
func (c *Connection) SendAck(ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return &Error{Reason: "failed to encode acknowledgment", Err: err}
	}

	ws, l := c.current()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &Error{Reason: "failed to send acknowledgment", Err: err}
	}

	l.Trace().Str("envelope_id", ack.EnvelopeID).Bool("has_payload", ack.Payload != nil).
		Msg("sent Socket Mode acknowledgment")
	return nil
}
