package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tzrikka/slackwire/internal/fakeslack"
	"github.com/tzrikka/slackwire/pkg/socketmode"
)

type fakeClient bool

func (c fakeClient) IsConnected() bool {
	return bool(c)
}

func TestHTTPServerHealthHandler(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		want      int
	}{
		{
			name: "not_connected",
			want: http.StatusServiceUnavailable,
		},
		{
			name:      "connected",
			connected: true,
			want:      http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHTTPServer(0, fakeClient(tt.connected), prometheus.NewRegistry())

			w := httptest.NewRecorder()
			r := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/healthz", http.NoBody)
			s.handler().ServeHTTP(w, r)

			if got := w.Result().StatusCode; got != tt.want {
				t.Errorf("response status code: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHTTPServerRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{
			name:   "post_healthz",
			method: http.MethodPost,
			path:   "/healthz",
			want:   http.StatusMethodNotAllowed,
		},
		{
			name:   "unknown_path",
			method: http.MethodGet,
			path:   "/webhook/123",
			want:   http.StatusNotFound,
		},
		{
			name:   "metrics",
			method: http.MethodGet,
			path:   "/metrics",
			want:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHTTPServer(0, fakeClient(true), newRegistry())

			w := httptest.NewRecorder()
			r := httptest.NewRequestWithContext(t.Context(), tt.method, tt.path, http.NoBody)
			s.handler().ServeHTTP(w, r)

			if got := w.Result().StatusCode; got != tt.want {
				t.Errorf("response status code: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHTTPServerMetricsWithClient(t *testing.T) {
	fs := fakeslack.New(t)
	reg := newRegistry()
	c := socketmode.New(fs, socketmode.WithRegisterer(reg))

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx)
	}()
	defer func() {
		cancel()
		<-errc
	}()

	sess := fs.Accept()
	sess.SendEnvelope("events_api", map[string]any{"type": "event_callback"})
	sess.ReadAck()

	s := newHTTPServer(0, c, reg)
	want := []string{
		`slackwire_socket_mode_envelopes_received_total{type="events_api"} 1`,
		"slackwire_socket_mode_acks_sent_total 1",
		"slackwire_socket_mode_connected 1",
		"go_goroutines",
	}

	// The acks counter is incremented after the write returns.
	var body string
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		body = scrape(t, s)
		if containsAll(body, want) {
			break
		}
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("metrics don't contain %q", w)
		}
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/healthz", http.NoBody)
	s.handler().ServeHTTP(w, r)
	if got := w.Result().StatusCode; got != http.StatusOK {
		t.Errorf("health status code: got %d, want %d", got, http.StatusOK)
	}
}

func TestHTTPServerRun(t *testing.T) {
	s := newHTTPServer(0, fakeClient(false), prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() {
		errc <- s.run(ctx)
	}()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() didn't return after context cancellation")
	}
}

func scrape(t *testing.T, s *httpServer) string {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/metrics", http.NoBody)
	s.handler().ServeHTTP(w, r)

	body, err := io.ReadAll(w.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
