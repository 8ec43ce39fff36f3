package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/getmockd/fakemesh/pkg/config"
	"github.com/getmockd/fakemesh/pkg/logging"
	"github.com/getmockd/fakemesh/pkg/metrics"
	fmtls "github.com/getmockd/fakemesh/pkg/tls"
	"github.com/getmockd/fakemesh/pkg/trace"
)

var (
	// ErrServerRunning is returned by Listen on a server that already
	// listens.
	ErrServerRunning = errors.New("server is already listening")

	// ErrServerStopped is returned when starting a stopped server.
	ErrServerStopped = errors.New("server is stopped")

	// ErrNotListening is returned by Serve before Listen.
	ErrNotListening = errors.New("server is not listening")
)

// Server is the fakemesh TLS front end.
type Server struct {
	cfg        *config.ServerConfig
	identity   *fmtls.Identity
	app        http.Handler
	handler    http.Handler
	log        *slog.Logger
	metrics    *metrics.Metrics
	traceSink  *trace.Sink
	httpServer *http.Server

	mu       sync.Mutex
	state    State
	listener net.Listener
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the operational logger for the server.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics the server records into.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTraceSink sets where debug traces go. It only has an effect when
// the configuration enables debug tracing. Defaults to stderr.
func WithTraceSink(sink *trace.Sink) ServerOption {
	return func(s *Server) {
		s.traceSink = sink
	}
}

// New creates a Server for app. The TLS identity named by cfg is loaded
// here, so unreadable or invalid certificate files fail construction.
func New(cfg *config.ServerConfig, app http.Handler, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server configuration is required")
	}
	if app == nil {
		return nil, errors.New("application handler is required")
	}

	s := &Server{
		cfg: cfg,
		app: app,
		log: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if cfg.Debug && s.traceSink == nil {
		s.traceSink = trace.NewSink(nil)
	}

	identity, err := fmtls.LoadIdentity(cfg.Identity())
	if err != nil {
		return nil, fmt.Errorf("failed to setup TLS: %w", err)
	}
	s.identity = identity

	s.handler = s.buildHandler()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		TLSConfig:         identity.TLSConfig(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// A non-nil empty map keeps net/http from negotiating HTTP/2.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
		ConnState:    s.trackConn,
		ErrorLog:     logging.NewStdLogger(s.log, serverErrorLevel, s.observeServerError),
	}

	return s, nil
}

// buildHandler assembles the middleware chain around the application.
func (s *Server) buildHandler() http.Handler {
	chain := []Middleware{
		identityMiddleware,
		AccessLog(s.log),
		metrics.Middleware(s.metrics),
	}
	if s.cfg.Debug {
		chain = append(chain, trace.Middleware(s.traceSink, trace.WithErrorHandler(s.traceFailed)))
	}
	return Chain(s.app, chain...)
}

func (s *Server) traceFailed(r *http.Request, err error) {
	s.metrics.TraceSinkErrors.Inc()
	s.log.Error("trace sink write failed, aborting request",
		"method", r.Method,
		"uri", r.RequestURI,
		"error", err,
	)
}

// Listen binds the configured address. Bind failures are returned
// immediately and leave the server unstarted.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateListening:
		return ErrServerRunning
	case StateStopped:
		return ErrServerStopped
	}

	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	s.listener = ln
	s.state = StateListening
	s.log.Info("server listening",
		"addr", ln.Addr().String(),
		"debug", s.cfg.Debug,
		"client_cas", s.identity.CACount(),
	)
	return nil
}

// Serve accepts connections until Stop is called. It returns nil after a
// graceful stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln, state := s.listener, s.state
	s.mu.Unlock()

	switch state {
	case StateUnstarted:
		return ErrNotListening
	case StateStopped:
		return nil
	}

	err := s.httpServer.ServeTLS(ln, "", "")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds and serves, blocking until the server stops.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops accepting connections and waits for in-flight requests to
// finish. ctx bounds the wait; a configured DrainTimeout bounds it further.
// When the wait is cut short the remaining connections are closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev, ln := s.state, s.listener
	s.state = StateStopped
	s.mu.Unlock()

	if prev != StateListening {
		return nil
	}

	if s.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}

	s.log.Info("server stopping")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain: %w", err))
		if cerr := s.httpServer.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close: %w", cerr))
		}
	}
	// Serve may never have run, in which case Shutdown does not know about
	// the listener.
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}

	s.log.Info("server stopped")
	return errors.Join(errs...)
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handler returns the complete handler chain, without TLS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Identity returns the loaded TLS identity.
func (s *Server) Identity() *fmtls.Identity {
	return s.identity
}
