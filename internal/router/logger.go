package router

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elysium-mesh/elysium/internal/peer"
)

// LogEntry is one routing decision, written as a line of JSON. Field
// names and shape are grounded field-for-field on meshlink_core's
// ai/routing_logger.rs RoutingLogEntry.
type LogEntry struct {
	Timestamp      string              `json:"timestamp"`
	MessageID      string              `json:"message_id"`
	NodeID         string              `json:"node_id"`
	FromPeer       string              `json:"from_peer,omitempty"`
	SelectedPeers  []PeerSelection     `json:"selected_peers"`
	AvailablePeers []MetricsSnapshot   `json:"available_peers"`
	MessageContext MessageContext      `json:"message_context"`
}

// PeerSelection records one peer chosen for forwarding, with the score
// and metrics that justified the choice.
type PeerSelection struct {
	PeerID  string          `json:"peer_id"`
	Score   float64         `json:"score"`
	Metrics MetricsSnapshot `json:"metrics"`
}

// MetricsSnapshot is a peer's metrics at decision time.
type MetricsSnapshot struct {
	PeerID           string  `json:"peer_id"`
	LatencyMS        *float64 `json:"latency_ms"`
	UptimeSeconds    float64 `json:"uptime_secs"`
	PingCount        uint32  `json:"ping_count"`
	PingFailures     uint32  `json:"ping_failures"`
	ReliabilityScore float64 `json:"reliability_score"`
	IsConnected      bool    `json:"is_connected"`
}

// SnapshotFromPeer builds a MetricsSnapshot from a live peer.Info.
func SnapshotFromPeer(p *peer.Info) MetricsSnapshot {
	s := p.Metrics.Snapshot()
	var latency *float64
	if s.HasLatency {
		v := s.LatencyMS
		latency = &v
	}
	return MetricsSnapshot{
		PeerID:           p.NodeID,
		LatencyMS:        latency,
		UptimeSeconds:    s.UptimeSeconds,
		PingCount:        s.PingCount,
		PingFailures:     s.PingFailures,
		ReliabilityScore: s.ReliabilityRatio,
		IsConnected:      p.IsConnected(),
	}
}

// MessageContext is the message metadata recorded alongside a routing
// decision.
type MessageContext struct {
	TTL         uint8  `json:"ttl"`
	PathLength  int    `json:"path_length"`
	IsBroadcast bool   `json:"is_broadcast"`
	TargetPeer  string `json:"target_peer,omitempty"`
}

// Logger appends LogEntry records to a JSONL file. A nil *Logger (via
// Router.SetLogger(nil)) disables logging entirely; callers never need
// to nil-check before calling Log.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger opens (creating if needed) a routing log file at
// <dir>/ai_routing_logs.jsonl, matching routing_logger.rs's default path
// convention.
func NewLogger(dir string) (*Logger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "ai_routing_logs.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f}, nil
}

// Log appends entry as one JSON line. Errors are swallowed: a routing
// log write failure must never block message forwarding.
func (l *Logger) Log(entry LogEntry) {
	if l == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	data = append(data, '\n')
	_, _ = l.file.Write(data)
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}

// NowTimestamp formats the current time in RFC3339Nano, matching the
// original's ISO-8601-style timestamp field.
func NowTimestamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }
