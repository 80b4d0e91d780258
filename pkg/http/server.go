package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	timeout = 3 * time.Second
)

// connChecker reports whether a Socket Mode client
// currently has an open WebSocket connection.
type connChecker interface {
	IsConnected() bool
}

type httpServer struct {
	httpPort int
	client   connChecker
	registry *prometheus.Registry
}

func newHTTPServer(port int, c connChecker, reg *prometheus.Registry) *httpServer {
	return &httpServer{httpPort: port, client: c, registry: reg}
}

func (s *httpServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// run starts an HTTP server to expose health checks and metrics.
// This is blocking, until the context is canceled.
func (s *httpServer) run(ctx context.Context) error {
	server := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(s.httpPort)),
		Handler:      s.handler(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	stop := context.AfterFunc(ctx, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	defer stop()

	log.Info().Msgf("HTTP server listening on port %d", s.httpPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Send()
		return err
	}

	return nil
}

// healthHandler responds with 200 OK while the Socket Mode
// client is connected to Slack, and with 503 otherwise.
func (s *httpServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if !s.client.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not connected\n"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
