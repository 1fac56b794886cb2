package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NicolasHaas/gochat/pkg/journal"
	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// connWriter serialises protocol lines onto one connection.
type connWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func newConnWriter(conn net.Conn, timeout time.Duration) *connWriter {
	return &connWriter{conn: conn, timeout: timeout}
}

// WriteLine writes line plus a newline terminator.
func (w *connWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	if _, err := io.WriteString(w.conn, line+"\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// handleConn runs the lifecycle of a single client connection: JOIN
// handshake, message loop, then leave processing.
func (s *Server) handleConn(connID string, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	peer := conn.RemoteAddr().String()
	log := slog.With("conn", connID, "remote", peer)

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)

	log.Debug("new connection")

	out := newConnWriter(conn, s.cfg.WriteTimeout)
	r := protocol.NewReader(conn)

	// First line must be JOIN
	if s.cfg.JoinTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.JoinTimeout))
	}
	msg, err := r.ReadMessage()
	if err != nil {
		s.metrics.AbortedHandshakes.Add(1)
		log.Debug("join read failed", "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeJoin {
		s.metrics.AbortedHandshakes.Add(1)
		log.Warn("first message must be JOIN", "type", msg.Type)
		return
	}

	id := msg.Sender
	if err := model.ValidateUserID(id); err != nil {
		s.reject(out, id, connID, peer, err)
		return
	}
	promoted, err := s.registry.Add(model.NewUser(id, peer, out))
	if err != nil {
		s.reject(out, id, connID, peer, err)
		return
	}

	s.metrics.Joins.Add(1)
	log = log.With("user", id)
	log.Info("user joined", "coordinator", promoted)
	s.record(journal.Event{Kind: journal.KindJoin, UserID: id, ConnID: connID, Peer: peer})
	if promoted {
		s.record(journal.Event{Kind: journal.KindPromote, UserID: id, ConnID: connID, Peer: peer, Detail: "first user"})
	}

	defer s.leave(id, connID, peer)
	s.router.OnJoin(id)

	var limiter *rate.Limiter
	if s.cfg.LinesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.LinesPerSecond), s.cfg.Burst)
	}

	// Message loop
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrMalformed):
				s.metrics.MalformedLines.Add(1)
				log.Warn("malformed line, closing connection", "err", err)
			case errors.Is(err, io.EOF), isClosedErr(err):
				log.Debug("connection closed")
			default:
				log.Warn("read error", "err", err)
			}
			return
		}

		if limiter != nil {
			if err := limiter.Wait(s.ctx); err != nil {
				return
			}
		}
		s.router.Dispatch(id, msg)
	}
}

// reject answers a JOIN that cannot be accepted. The connection is closed by
// the caller.
func (s *Server) reject(out model.Outbound, id, connID, peer string, reason error) {
	s.metrics.RejectedJoins.Add(1)
	slog.Info("join rejected", "conn", connID, "user", id, "reason", reason)
	s.record(journal.Event{Kind: journal.KindReject, UserID: id, ConnID: connID, Peer: peer, Detail: reason.Error()})

	if err := out.WriteLine(protocol.Encode(protocol.RejectJoin(id))); err != nil {
		slog.Debug("reject write failed", "conn", connID, "err", err)
	}
}

// leave deregisters id and notifies the remaining users.
func (s *Server) leave(id, connID, peer string) {
	dep, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	s.metrics.Leaves.Add(1)
	slog.Info("user left", "conn", connID, "user", id, "was_coordinator", dep.WasCoordinator)
	s.record(journal.Event{Kind: journal.KindLeave, UserID: id, ConnID: connID, Peer: peer})

	if dep.WasCoordinator && dep.Coordinator != "" {
		s.metrics.CoordinatorChanges.Add(1)
		slog.Info("coordinator changed", "old", id, "new", dep.Coordinator)
		s.record(journal.Event{Kind: journal.KindPromote, UserID: dep.Coordinator, Detail: "replaced " + id})
	}
	s.router.OnLeave(id, dep)
}

// isClosedErr reports whether err comes from using a closed connection.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "tls: use of closed connection")
}
