package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics in
// Prometheus text exposition format and /healthz. It shuts down when the
// server context is cancelled. An empty Config.MetricsAddr disables it.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP gochat_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE gochat_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "gochat_uptime_seconds %f\n", uptime)

	write("gochat_connections_active", "Connections currently being handled.", "gauge",
		m.ActiveConnections.Load())
	write("gochat_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gochat_handshakes_aborted_total", "Connections closed before a valid JOIN.", "counter",
		m.AbortedHandshakes.Load())
	write("gochat_users_connected", "Users currently registered.", "gauge",
		int64(s.registry.Count()))
	write("gochat_joins_total", "Users registered.", "counter",
		m.Joins.Load())
	write("gochat_joins_rejected_total", "JOIN requests rejected.", "counter",
		m.RejectedJoins.Load())
	write("gochat_leaves_total", "Registered users that disconnected.", "counter",
		m.Leaves.Load())

	write("gochat_chat_messages_total", "CHAT messages routed.", "counter",
		m.ChatMessages.Load())
	write("gochat_private_opens_total", "Private chats opened.", "counter",
		m.PrivateOpens.Load())
	write("gochat_details_requests_total", "User detail requests answered.", "counter",
		m.DetailsRequests.Load())
	write("gochat_status_toggles_total", "Status toggles applied.", "counter",
		m.StatusToggles.Load())
	write("gochat_malformed_lines_total", "Protocol lines that failed to decode.", "counter",
		m.MalformedLines.Load())
	write("gochat_send_failures_total", "Per-recipient writes that failed.", "counter",
		m.SendFailures.Load())
	write("gochat_coordinator_changes_total", "Coordinator promotions after a departure.", "counter",
		m.CoordinatorChanges.Load())
}
