// Package server exposes the tandem HTTP surface: the /ws relay endpoint
// clients stream audio over, health probes for orchestration, and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/relay"
)

const (
	// readLimit bounds a single WebSocket message. Client audio chunks are a
	// few KiB; a megabyte leaves generous headroom without letting a broken
	// client exhaust memory.
	readLimit = 1 << 20

	// shutdownTimeout bounds graceful HTTP shutdown once the run context is
	// cancelled.
	shutdownTimeout = 10 * time.Second
)

// SessionHandler runs one client connection to completion. Implemented by
// [relay.Relay].
type SessionHandler interface {
	HandleSession(ctx context.Context, conn relay.ClientConn) error
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithChecker adds a named readiness check evaluated by /readyz.
func WithChecker(c Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// WithOriginPatterns sets the host patterns accepted during the WebSocket
// handshake. Without it, only same-origin browser connections are accepted.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithTLS serves HTTPS using the given certificate pair.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server serves the tandem HTTP endpoints.
type Server struct {
	addr     string
	sessions SessionHandler

	checkers       []Checker
	originPatterns []string
	certFile       string
	keyFile        string

	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Server listening on addr, handing each /ws connection to
// sessions.
func New(addr string, sessions SessionHandler, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		sessions: sessions,
		metrics:  observe.DefaultMetrics(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the full HTTP handler: routes wrapped in the metrics and
// tracing middleware. Exposed separately so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)
	return observe.Middleware(s.metrics)(mux)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. In-flight
// WebSocket sessions are torn down by their request contexts.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if s.certFile != "" {
			errCh <- srv.ListenAndServeTLS(s.certFile, s.keyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
}

// handleWS upgrades the request and runs a relay session on the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	s.log.Info("client connected", "remote", r.RemoteAddr)

	if err := s.sessions.HandleSession(r.Context(), &wsConn{conn: conn}); err != nil {
		s.log.Warn("session ended with error", "remote", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}

	s.log.Info("client disconnected", "remote", r.RemoteAddr)
	conn.Close(websocket.StatusNormalClosure, "")
}
