package fakeslack

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is the server side of a single WebSocket connection.
type Session struct {
	t    testing.TB
	conn *websocket.Conn

	msgs   chan []byte
	pongs  chan string
	closed chan struct{}
}

// Ack is an acknowledgment as received from the client.
type Ack struct {
	EnvelopeID string          `json:"envelope_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	Raw []byte `json:"-"`
}

func newSession(t testing.TB, conn *websocket.Conn) *Session {
	s := &Session{
		t:      t,
		conn:   conn,
		msgs:   make(chan []byte, 64),
		pongs:  make(chan string, 16),
		closed: make(chan struct{}),
	}

	conn.SetPongHandler(func(data string) error {
		s.pongs <- data
		return nil
	})

	go s.read()
	return s
}

func (s *Session) read() {
	defer close(s.closed)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.msgs <- data
	}
}

// Hello sends a "hello" control message.
func (s *Session) Hello() {
	s.t.Helper()
	s.SendJSON(map[string]any{
		"type":            "hello",
		"num_connections": 1,
		"debug_info":      map[string]any{"host": "fakeslack"},
	})
}

// RequestDisconnect sends a "disconnect" control message.
func (s *Session) RequestDisconnect(reason string) {
	s.t.Helper()
	s.SendJSON(map[string]any{
		"type":       "disconnect",
		"reason":     reason,
		"debug_info": map[string]any{"host": "fakeslack"},
	})
}

// SendEnvelope sends an envelope with a new
// random ID of the given type, and returns the ID.
func (s *Session) SendEnvelope(msgType string, payload any) string {
	s.t.Helper()

	id := uuid.NewString()
	s.SendJSON(map[string]any{
		"type":                     msgType,
		"envelope_id":              id,
		"payload":                  payload,
		"accepts_response_payload": msgType != "events_api",
	})
	return id
}

func (s *Session) SendJSON(v any) {
	s.t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		s.t.Fatalf("json.Marshal() error = %v", err)
	}
	s.SendText(string(data))
}

func (s *Session) SendText(data string) {
	s.t.Helper()

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		s.t.Fatalf("WriteMessage(text) error = %v", err)
	}
}

func (s *Session) SendBinary(data []byte) {
	s.t.Helper()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.t.Fatalf("WriteMessage(binary) error = %v", err)
	}
}

// Ping sends a "Ping" control frame.
func (s *Session) Ping(data string) {
	s.t.Helper()

	if err := s.conn.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(timeout)); err != nil {
		s.t.Fatalf("WriteControl(ping) error = %v", err)
	}
}

// Pong waits for the next "Pong" control frame from the client.
func (s *Session) Pong() string {
	s.t.Helper()

	select {
	case data := <-s.pongs:
		return data
	case <-time.After(timeout):
		s.t.Fatal("timeout waiting for a pong")
		return ""
	}
}

// Close sends a "Close" control frame, and then closes the connection.
func (s *Session) Close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = s.conn.Close()
}

// Drop closes the underlying network connection without a "Close" control frame.
func (s *Session) Drop() {
	_ = s.conn.Close()
}

// ReadAck waits for the next text message from the client, and decodes it.
func (s *Session) ReadAck() Ack {
	s.t.Helper()

	select {
	case data := <-s.msgs:
		a := Ack{Raw: data}
		if err := json.Unmarshal(data, &a); err != nil {
			s.t.Fatalf("json.Unmarshal(ack) error = %v", err)
		}
		return a
	case <-time.After(timeout):
		s.t.Fatal("timeout waiting for an acknowledgment")
		return Ack{}
	}
}

// NoAck checks that the client doesn't send any text
// message within the given duration.
func (s *Session) NoAck(d time.Duration) {
	s.t.Helper()

	select {
	case data := <-s.msgs:
		s.t.Errorf("unexpected message from client: %s", data)
	case <-time.After(d):
	}
}

// WaitClosed waits for the client to close the connection.
func (s *Session) WaitClosed() {
	s.t.Helper()

	select {
	case <-s.closed:
	case <-time.After(timeout):
		s.t.Fatal("timeout waiting for the client to close the connection")
	}
}
