package socketmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tzrikka/slackwire/internal/fakeslack"
)

const (
	waitTimeout = 3 * time.Second
	quietPeriod = 200 * time.Millisecond
)

// recorder collects handler calls from the client's receive loop.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string{}, r.calls...)
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(_ context.Context, e Envelope) error {
		r.add(name + ":" + e.EnvelopeID)
		return nil
	}
}

func newTestClient(s *fakeslack.Server, opts ...Option) *Client {
	c := New(s, opts...)
	c.backoff = time.Millisecond
	return c
}

func start(t *testing.T, c *Client) <-chan error {
	t.Helper()

	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(t.Context())
	}()
	t.Cleanup(func() {
		_ = c.Disconnect()
	})
	return errc
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()

	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for Client.Start() to return")
		return nil
	}
}

func TestNew(t *testing.T) {
	c := New(URLOpenerFunc(func(context.Context) (string, error) { return "", nil }))

	if !c.AutoAcknowledge() {
		t.Error("Client.AutoAcknowledge() = false by default")
	}
	if c.maxRetries != DefaultMaxReconnectAttempts {
		t.Errorf("Client.maxRetries = %d, want %d", c.maxRetries, DefaultMaxReconnectAttempts)
	}
	if c.IsConnected() {
		t.Error("Client.IsConnected() = true initially")
	}
	if c.State() != StateIdle {
		t.Errorf("Client.State() = %v, want %v", c.State(), StateIdle)
	}

	c.SetAutoAcknowledge(false)
	if c.AutoAcknowledge() {
		t.Error("Client.AutoAcknowledge() = true after SetAutoAcknowledge(false)")
	}

	c = New(nil, WithMaxReconnectAttempts(10))
	if c.maxRetries != 10 {
		t.Errorf("Client.maxRetries = %d, want %d", c.maxRetries, 10)
	}
}

func TestClientOn(t *testing.T) {
	c := New(nil)
	r := &recorder{}

	c.OnEventsAPI(r.handler("1"))
	c.OnEventsAPI(r.handler("2"))
	c.OnSlashCommands(r.handler("3"))
	c.OnInteractive(r.handler("4"))
	c.OnAppMention(r.handler("5"))
	c.On("block_suggestion", r.handler("6"))
	c.On(TypeHello, r.handler("7"))
	c.On(TypeDisconnect, r.handler("8"))

	tests := []struct {
		msgType string
		want    int
	}{
		{"events_api", 2},
		{"slash_commands", 1},
		{"interactive", 1},
		{"app_mention", 1},
		{"block_suggestion", 1},
		{"hello", 0},
		{"disconnect", 0},
	}
	for _, tt := range tests {
		if got := len(c.handlers.get(tt.msgType)); got != tt.want {
			t.Errorf("len(handlers[%q]) = %d, want %d", tt.msgType, got, tt.want)
		}
	}
}

func TestClientBackoffDelay(t *testing.T) {
	c := New(nil)
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 32 * time.Second},
		{100, 32 * time.Second},
	}

	for _, tt := range tests {
		if got := c.backoffDelay(tt.attempts); got != tt.want {
			t.Errorf("Client.backoffDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestClientConnect(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	t.Cleanup(func() { _ = c.Disconnect() })

	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Client.Connect() error = %v", err)
	}
	first := c.conn.Load()
	s.Accept()

	// Reconnecting replaces (and closes) the previous connection.
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Client.Connect() error = %v", err)
	}
	s.Accept()

	if c.conn.Load() == first {
		t.Error("Client.Connect() didn't replace the connection")
	}
	if first.IsConnected() {
		t.Error("previous connection still connected")
	}
	if !c.IsConnected() {
		t.Error("Client.IsConnected() = false")
	}
}

func TestClientConnectErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *fakeslack.Server)
	}{
		{
			name:  "api_error",
			setup: func(s *fakeslack.Server) { s.FailOpens(1) },
		},
		{
			name:  "missing_url",
			setup: func(s *fakeslack.Server) { s.OmitURL(true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fakeslack.New(t)
			tt.setup(s)
			c := newTestClient(s)

			err := c.Connect(t.Context())
			var smErr *Error
			if !errors.As(err, &smErr) {
				t.Fatalf("Client.Connect() error = %v, want *Error", err)
			}
			if c.IsConnected() {
				t.Error("Client.IsConnected() = true after failed Connect()")
			}
		})
	}
}

func TestClientControlMessagesNotDispatched(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	r := &recorder{}
	c.OnEventsAPI(r.handler("events"))
	c.On(TypeHello, r.handler("hello"))
	c.On(TypeDisconnect, r.handler("disconnect"))
	start(t, c)

	sess := s.Accept()
	sess.Hello()
	id := sess.SendEnvelope("events_api", map[string]string{"type": "event_callback"})

	// The first (and only) ack is for the events API envelope, not the hello message.
	if got := sess.ReadAck(); got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}
	sess.NoAck(quietPeriod)

	if got, want := r.get(), []string{"events:" + id}; !reflect.DeepEqual(got, want) {
		t.Errorf("handler calls = %v, want %v", got, want)
	}
}

func TestClientHandlerFailuresDontStopDispatch(t *testing.T) {
	s := fakeslack.New(t)
	reg := prometheus.NewRegistry()
	c := newTestClient(s, WithRegisterer(reg))
	r := &recorder{}

	c.OnEventsAPI(func(_ context.Context, e Envelope) error {
		r.add("panic")
		panic("handler panic")
	})
	c.OnEventsAPI(func(_ context.Context, e Envelope) error {
		r.add("error")
		return errors.New("handler error")
	})
	c.OnEventsAPI(r.handler("ok"))
	start(t, c)

	sess := s.Accept()
	id := sess.SendEnvelope("events_api", map[string]string{"type": "event_callback"})

	got := sess.ReadAck()
	if got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}
	if got.Payload != nil {
		t.Errorf("ack payload = %s, want none", got.Payload)
	}

	if got, want := r.get(), []string{"panic", "error", "ok:" + id}; !reflect.DeepEqual(got, want) {
		t.Errorf("handler calls = %v, want %v", got, want)
	}

	if n := testutil.ToFloat64(c.metrics.handlerErrors.WithLabelValues("events_api")); n != 2 {
		t.Errorf("handler errors metric = %v, want 2", n)
	}
	if n := testutil.ToFloat64(c.metrics.acks); n != 1 {
		t.Errorf("acks metric = %v, want 1", n)
	}
}

func TestClientDispatchOrder(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	r := &recorder{}

	c.OnSlashCommands(func(_ context.Context, e Envelope) error {
		r.add("begin:" + e.EnvelopeID)
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	c.OnSlashCommands(r.handler("end"))
	start(t, c)

	sess := s.Accept()
	var ids []string
	for i := range 3 {
		ids = append(ids, sess.SendEnvelope("slash_commands", map[string]string{"text": fmt.Sprint(i)}))
	}

	var want []string
	for _, id := range ids {
		if got := sess.ReadAck(); got.EnvelopeID != id {
			t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
		}
		want = append(want, "begin:"+id, "end:"+id)
	}

	if got := r.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("handler calls = %v, want %v", got, want)
	}
}

func TestClientManualAcknowledgment(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	c.SetAutoAcknowledge(false)

	received := make(chan Envelope, 1)
	c.OnEventsAPI(func(_ context.Context, e Envelope) error {
		received <- e
		return nil
	})
	c.OnSlashCommands(func(ctx context.Context, e Envelope) error {
		return c.AcknowledgeWithPayload(ctx, e.EnvelopeID, map[string]string{"text": "pong"})
	})
	start(t, c)

	sess := s.Accept()
	eventID := sess.SendEnvelope("events_api", map[string]string{"type": "event_callback"})
	cmdID := sess.SendEnvelope("slash_commands", map[string]string{"command": "/ping"})

	// Acknowledged within the handler, with a payload.
	got := sess.ReadAck()
	if got.EnvelopeID != cmdID {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, cmdID)
	}
	if string(got.Payload) != `{"text":"pong"}` {
		t.Errorf("ack payload = %s, want %s", got.Payload, `{"text":"pong"}`)
	}

	// Not acknowledged automatically.
	sess.NoAck(quietPeriod)

	// Acknowledged outside the handler.
	e := <-received
	if e.EnvelopeID != eventID {
		t.Errorf("handler envelope ID = %q, want %q", e.EnvelopeID, eventID)
	}
	if err := c.Acknowledge(t.Context(), e.EnvelopeID); err != nil {
		t.Fatalf("Client.Acknowledge() error = %v", err)
	}
	got = sess.ReadAck()
	if string(got.Raw) != fmt.Sprintf(`{"envelope_id":%q}`, eventID) {
		t.Errorf("ack = %s", got.Raw)
	}
	sess.NoAck(quietPeriod)
}

func TestClientAcknowledgeNotConnected(t *testing.T) {
	c := New(nil)

	if err := c.Acknowledge(t.Context(), "e1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Client.Acknowledge() error = %v, want %v", err, ErrNotConnected)
	}
	if err := c.AcknowledgeWithPayload(t.Context(), "e1", json.RawMessage(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Client.AcknowledgeWithPayload() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestClientUnknownTypeIsAcknowledged(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	start(t, c)

	sess := s.Accept()
	sess.SendText(`{"type":"app_rate_limited","payload":{}}`) // No envelope ID.
	id := sess.SendEnvelope("block_suggestion", map[string]string{"type": "block_suggestion"})

	if got := sess.ReadAck(); got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}
}

func TestClientServerRequestedDisconnect(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	r := &recorder{}
	c.OnInteractive(r.handler("interactive"))
	start(t, c)

	sess1 := s.Accept()
	sess1.RequestDisconnect("refresh_requested")
	sess1.WaitClosed()

	sess2 := s.Accept()
	id := sess2.SendEnvelope("interactive", map[string]string{"type": "block_actions"})
	if got := sess2.ReadAck(); got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}

	if got, want := r.get(), []string{"interactive:" + id}; !reflect.DeepEqual(got, want) {
		t.Errorf("handler calls = %v, want %v", got, want)
	}
	if n := s.Opens(); n != 2 {
		t.Errorf("connection URL requests = %d, want 2", n)
	}
	if n := testutil.ToFloat64(c.metrics.serverRequests); n != 1 {
		t.Errorf("disconnect requests metric = %v, want 1", n)
	}
}

func TestClientReconnectsAfterConnectionLoss(t *testing.T) {
	tests := []struct {
		name  string
		close func(s *fakeslack.Session)
	}{
		{
			name:  "close_frame",
			close: func(s *fakeslack.Session) { s.Close(1001, "going away") },
		},
		{
			name:  "dropped",
			close: func(s *fakeslack.Session) { s.Drop() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fakeslack.New(t)
			c := newTestClient(s)
			start(t, c)

			tt.close(s.Accept())

			sess := s.Accept()
			id := sess.SendEnvelope("events_api", map[string]string{})
			if got := sess.ReadAck(); got.EnvelopeID != id {
				t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
			}
		})
	}
}

func TestClientMaxReconnectAttempts(t *testing.T) {
	tests := []struct {
		name  string
		max   int
		setup func(s *fakeslack.Server)
	}{
		{
			name:  "api_errors",
			max:   3,
			setup: func(s *fakeslack.Server) { s.FailOpens(100) },
		},
		{
			name:  "missing_url",
			max:   DefaultMaxReconnectAttempts,
			setup: func(s *fakeslack.Server) { s.OmitURL(true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fakeslack.New(t)
			tt.setup(s)
			c := newTestClient(s, WithMaxReconnectAttempts(tt.max))

			err := wait(t, start(t, c))
			var smErr *Error
			if !errors.As(err, &smErr) || smErr.Reason != "max reconnection attempts reached" {
				t.Fatalf("Client.Start() error = %v, want max reconnection attempts", err)
			}

			if n := s.Opens(); n != tt.max {
				t.Errorf("connection URL requests = %d, want %d", n, tt.max)
			}
			if c.State() != StateStopped {
				t.Errorf("Client.State() = %v, want %v", c.State(), StateStopped)
			}
			s.NoConnection(quietPeriod)
			if n := s.Opens(); n != tt.max {
				t.Errorf("connection URL requests after Start() = %d, want %d", n, tt.max)
			}
		})
	}
}

func TestClientRecoversBeforeMaxReconnectAttempts(t *testing.T) {
	s := fakeslack.New(t)
	s.FailOpens(2)
	c := newTestClient(s, WithMaxReconnectAttempts(3))
	errc := start(t, c)

	sess := s.Accept()
	id := sess.SendEnvelope("events_api", map[string]string{})
	if got := sess.ReadAck(); got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}
	if c.State() != StateRunning {
		t.Errorf("Client.State() = %v, want %v", c.State(), StateRunning)
	}

	// The attempts counter was reset by the successful connection.
	s.FailOpens(2)
	sess.Drop()
	sess = s.Accept()
	if n := s.Opens(); n != 6 {
		t.Errorf("connection URL requests = %d, want 6", n)
	}

	if err := c.Disconnect(); err != nil {
		t.Errorf("Client.Disconnect() error = %v", err)
	}
	if err := wait(t, errc); err != nil {
		t.Errorf("Client.Start() error = %v", err)
	}
	sess.WaitClosed()
}

func TestClientDisconnect(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	errc := start(t, c)
	sess := s.Accept()

	if err := c.Disconnect(); err != nil {
		t.Errorf("Client.Disconnect() error = %v", err)
	}
	if err := wait(t, errc); err != nil {
		t.Errorf("Client.Start() error = %v", err)
	}

	sess.WaitClosed()
	if c.IsConnected() {
		t.Error("Client.IsConnected() = true after Disconnect()")
	}
	if c.State() != StateStopped {
		t.Errorf("Client.State() = %v, want %v", c.State(), StateStopped)
	}
	if n := s.Opens(); n != 1 {
		t.Errorf("connection URL requests = %d, want 1", n)
	}
}

func TestClientContextCanceled(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx)
	}()
	sess := s.Accept()

	cancel()
	if err := wait(t, errc); err != nil {
		t.Errorf("Client.Start() error = %v", err)
	}
	sess.WaitClosed()
}

func TestClientAlreadyRunning(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	start(t, c)
	s.Accept()

	if err := c.Start(t.Context()); err == nil {
		t.Error("second Client.Start() error = nil")
	}
}

func TestClientRegisterWhileRunning(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)
	r := &recorder{}
	start(t, c)

	sess := s.Accept()
	id1 := sess.SendEnvelope("app_mention", map[string]string{})
	sess.ReadAck()

	c.OnAppMention(r.handler("mention"))
	id2 := sess.SendEnvelope("app_mention", map[string]string{})
	if got := sess.ReadAck(); got.EnvelopeID != id2 {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id2)
	}

	got := r.get()
	if want := []string{"mention:" + id2}; !reflect.DeepEqual(got, want) {
		t.Errorf("handler calls = %v, want %v (not %q)", got, want, id1)
	}
}

func TestClientStateWithConnectBeforeStart(t *testing.T) {
	s := fakeslack.New(t)
	c := newTestClient(s)

	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Client.Connect() error = %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Client.State() before Start() = %v, want %v", c.State(), StateIdle)
	}
	sess := s.Accept()
	start(t, c)

	id := sess.SendEnvelope("events_api", map[string]string{})
	if got := sess.ReadAck(); got.EnvelopeID != id {
		t.Errorf("ack envelope ID = %q, want %q", got.EnvelopeID, id)
	}
	if c.State() != StateRunning {
		t.Errorf("Client.State() = %v, want %v", c.State(), StateRunning)
	}
	if n := s.Opens(); n != 1 {
		t.Errorf("connection URL requests = %d, want 1", n)
	}
}

func TestClientStopDuringConnect(t *testing.T) {
	tests := []struct {
		name        string
		stop        func(c *Client, cancel context.CancelFunc)
		wantSession bool
	}{
		{
			name:        "disconnect",
			stop:        func(c *Client, _ context.CancelFunc) { _ = c.Disconnect() },
			wantSession: true,
		},
		{
			name: "context_canceled",
			stop: func(_ *Client, cancel context.CancelFunc) { cancel() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fakeslack.New(t)
			opening := make(chan struct{}, 1)
			release := make(chan struct{})
			c := New(URLOpenerFunc(func(context.Context) (string, error) {
				select {
				case opening <- struct{}{}:
				default:
				}
				<-release
				return s.WebSocketURL(), nil
			}))
			c.backoff = time.Millisecond

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			errc := make(chan error, 1)
			go func() {
				errc <- c.Start(ctx)
			}()
			t.Cleanup(func() { _ = c.Disconnect() })

			// Stop while the connection URL is still pending, then let it through.
			<-opening
			tt.stop(c, cancel)
			close(release)

			if err := wait(t, errc); err != nil {
				t.Errorf("Client.Start() error = %v", err)
			}
			if tt.wantSession {
				s.Accept().WaitClosed()
			}
			if c.IsConnected() {
				t.Error("Client.IsConnected() = true after Start() returned")
			}
			if c.State() != StateStopped {
				t.Errorf("Client.State() = %v, want %v", c.State(), StateStopped)
			}
		})
	}
}
