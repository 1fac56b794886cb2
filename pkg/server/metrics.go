package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // connections currently being handled
	AbortedHandshakes atomic.Int64 // connections closed before a valid JOIN
	Joins             atomic.Int64 // users registered
	RejectedJoins     atomic.Int64 // JOINs answered with REJECT_JOIN
	Leaves            atomic.Int64 // registered users that disconnected

	// Routing counters
	ChatMessages    atomic.Int64 // CHAT messages routed (group + private)
	PrivateOpens    atomic.Int64 // OPEN_PRIVATE notifications routed
	DetailsRequests atomic.Int64 // DETAILS_REQUEST messages answered
	StatusToggles   atomic.Int64 // STATUS_UPDATE messages applied
	MalformedLines  atomic.Int64 // lines that failed to decode
	SendFailures    atomic.Int64 // per-recipient writes that failed

	CoordinatorChanges atomic.Int64 // promotions after a coordinator left
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	AbortedHandshakes int64 `json:"aborted_handshakes"`
	Joins             int64 `json:"joins"`
	RejectedJoins     int64 `json:"rejected_joins"`
	Leaves            int64 `json:"leaves"`

	ChatMessages    int64 `json:"chat_messages"`
	PrivateOpens    int64 `json:"private_opens"`
	DetailsRequests int64 `json:"details_requests"`
	StatusToggles   int64 `json:"status_toggles"`
	MalformedLines  int64 `json:"malformed_lines"`
	SendFailures    int64 `json:"send_failures"`

	CoordinatorChanges int64 `json:"coordinator_changes"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		ActiveConnections:  m.ActiveConnections.Load(),
		TotalConnections:   m.TotalConnections.Load(),
		AbortedHandshakes:  m.AbortedHandshakes.Load(),
		Joins:              m.Joins.Load(),
		RejectedJoins:      m.RejectedJoins.Load(),
		Leaves:             m.Leaves.Load(),
		ChatMessages:       m.ChatMessages.Load(),
		PrivateOpens:       m.PrivateOpens.Load(),
		DetailsRequests:    m.DetailsRequests.Load(),
		StatusToggles:      m.StatusToggles.Load(),
		MalformedLines:     m.MalformedLines.Load(),
		SendFailures:       m.SendFailures.Load(),
		CoordinatorChanges: m.CoordinatorChanges.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"joins", s.Joins,
		"rejected", s.RejectedJoins,
		"chat_msgs", s.ChatMessages,
		"send_failures", s.SendFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
