// Package server implements the GoChat server: the session registry with
// coordinator election, the message router and the TCP connection acceptor.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gochat/pkg/journal"
)

// Config holds server configuration.
type Config struct {
	Addr         string        // TCP bind address (e.g. "127.0.0.1:9700")
	TLS          bool          // serve TLS instead of plain TCP
	CertFile     string        // TLS certificate file path
	KeyFile      string        // TLS private key file path
	DataDir      string        // directory for generated certs
	MetricsAddr  string        // HTTP bind address for /metrics (empty = disabled)
	JoinTimeout  time.Duration // max wait for the JOIN line (0 = none)
	WriteTimeout time.Duration // per-line write deadline (0 = none)

	// Inbound pacing per connection; 0 disables it.
	LinesPerSecond float64
	Burst          int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9700",
		MetricsAddr:  "",
		DataDir:      ".",
		JoinTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		Burst:        20,
	}
}

// EventRecorder persists presence events. *journal.Journal implements it.
type EventRecorder interface {
	Record(ctx context.Context, e journal.Event) error
}

// Dependencies holds optional external dependencies for the server.
type Dependencies struct {
	Events EventRecorder // nil disables event recording
}

// Server accepts chat connections and runs one session handler per
// connection.
type Server struct {
	cfg      Config
	registry *Registry
	router   *Router
	metrics  *Metrics
	events   EventRecorder

	listener   net.Listener
	acceptDone chan struct{}

	mu     sync.Mutex
	conns  map[string]net.Conn // conn id -> conn, for shutdown
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.LinesPerSecond > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	metrics := NewMetrics()
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry, metrics),
		metrics:  metrics,
		events:   deps.Events,
		conns:    make(map[string]net.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router returns the message router.
func (s *Server) Router() *Router {
	return s.router
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and starts accepting connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	if s.cfg.TLS {
		cert, err := loadOrGenerateTLS(s.cfg)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("server: tls: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		})
	}
	s.listener = ln
	s.acceptDone = make(chan struct{})

	slog.Info("chat server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS)
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if isClosedErr(err) {
				return
			}
			slog.Error("accept error", "err", err)
			continue
		}
		connID := uuid.NewString()
		if !s.trackConn(connID, conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(connID)
			s.handleConn(connID, conn)
		}()
	}
}

// trackConn registers conn for shutdown. It returns false once the server
// is closed.
func (s *Server) trackConn(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrackConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) record(e journal.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(context.WithoutCancel(s.ctx), e); err != nil {
		slog.Warn("journal write failed", "kind", e.Kind, "user", e.UserID, "err", err)
	}
}
