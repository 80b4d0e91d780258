// Package fakeslack is a local stand-in for Slack's Socket Mode infrastructure,
// for tests: the [apps.connections.open] API method, and a scripted WebSocket
// server that sends envelopes and control frames, and records acknowledgments.
//
// [apps.connections.open]: https://docs.slack.dev/reference/methods/apps.connections.open
package fakeslack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	timeout = 3 * time.Second
)

type Server struct {
	*httptest.Server

	t        testing.TB
	upgrader websocket.Upgrader
	sessions chan *Session

	mu        sync.Mutex
	opens     int
	failures  int
	omitURL   bool
	lastToken string
}

// New starts a fake Slack server, which is closed automatically when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{t: t, sessions: make(chan *Session, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/apps.connections.open", s.connectionsOpen)
	mux.HandleFunc("GET /link", s.link)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// APIURL is the base URL of the fake Slack API, with a trailing slash.
func (s *Server) APIURL() string {
	return s.URL + "/api/"
}

// WebSocketURL is the URL that the fake Slack API hands out.
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/link"
}

// FailOpens causes the next n connection URL requests to fail.
func (s *Server) FailOpens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = n
}

// OmitURL causes all subsequent connection URL responses to be
// successful but without a URL, or restores normal responses.
func (s *Server) OmitURL(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.omitURL = omit
}

// Opens is the number of connection URL requests so far.
func (s *Server) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opens
}

// LastToken is the bearer token of the most recent API request.
func (s *Server) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastToken
}

// nextOpen records a connection URL request, and returns the URL
// to respond with (possibly empty), or false if it should fail.
func (s *Server) nextOpen() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.failures > 0 {
		s.failures--
		return "", false
	}
	if s.omitURL {
		return "", true
	}
	return s.WebSocketURL(), true
}

// OpenConnection lets the server act directly as the
// client's URL generator, without an HTTP round-trip.
func (s *Server) OpenConnection(_ context.Context) (string, error) {
	url, ok := s.nextOpen()
	if !ok {
		return "", errors.New("internal_error")
	}
	return url, nil
}

func (s *Server) connectionsOpen(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Unlock()

	resp := map[string]any{"ok": true}
	url, ok := s.nextOpen()
	switch {
	case !ok:
		resp = map[string]any{"ok": false, "error": "internal_error"}
	case url != "":
		resp["url"] = url
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) link(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	s.sessions <- newSession(s.t, conn)
}

// Accept waits for the next WebSocket connection from a client. It returns
// once the server side of the handshake is done, which may be before the
// client's Connect call returns.
func (s *Server) Accept() *Session {
	s.t.Helper()

	select {
	case sess := <-s.sessions:
		return sess
	case <-time.After(timeout):
		s.t.Fatal("timeout waiting for a WebSocket connection")
		return nil
	}
}

// NoConnection checks that no client connects within the given duration.
func (s *Server) NoConnection(d time.Duration) {
	s.t.Helper()

	select {
	case <-s.sessions:
		s.t.Error("unexpected WebSocket connection")
	case <-time.After(d):
	}
}
