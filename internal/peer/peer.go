// Package peer tracks known peers, their connection state machine, and
// the rolling performance metrics the router uses to score them.
// Grounded on meshlink_core's p2p/peer.rs (PeerInfo, ConnectionState,
// PeerManager) generalized with PeerMetrics from node.rs's scoring call
// sites, and on repram's gossip protocol's RWMutex-guarded peer map
// idiom.
package peer

import (
	"net"
	"sync"
	"time"
)

// ConnectionState is a peer's position in the connection lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Handshaking
	Connected
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// latencyAlpha is the EMA smoothing factor applied to each new latency
// sample, fixed by spec.md for reproducible scoring.
const latencyAlpha = 0.3

// Metrics is a peer's rolling performance record.
type Metrics struct {
	mu sync.RWMutex

	hasLatency  bool
	latencyEMA  time.Duration
	connectedAt time.Time
	uptime      time.Duration

	pingCount    uint32
	pingFailures uint32
}

// UpdateLatency folds a new round-trip sample into the EMA.
func (m *Metrics) UpdateLatency(sample time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLatency {
		m.latencyEMA = sample
		m.hasLatency = true
		return
	}
	m.latencyEMA = time.Duration(latencyAlpha*float64(sample) + (1-latencyAlpha)*float64(m.latencyEMA))
}

// Latency returns the current EMA latency and whether any sample has
// ever been recorded.
func (m *Metrics) Latency() (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latencyEMA, m.hasLatency
}

// MarkConnected starts uptime accumulation from now.
func (m *Metrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectedAt = time.Now()
}

// MarkDisconnected folds the current connected span into cumulative
// uptime.
func (m *Metrics) MarkDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connectedAt.IsZero() {
		m.uptime += time.Since(m.connectedAt)
		m.connectedAt = time.Time{}
	}
}

// Uptime returns the cumulative connected duration, including the
// in-progress span if currently connected.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.uptime
	if !m.connectedAt.IsZero() {
		total += time.Since(m.connectedAt)
	}
	return total
}

// RecordPing increments the ping counter and, on failure, the failure
// counter.
func (m *Metrics) RecordPing(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCount++
	if !ok {
		m.pingFailures++
	}
}

// PingCounts returns the raw ping/failure counters.
func (m *Metrics) PingCounts() (count, failures uint32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingCount, m.pingFailures
}

// Reliability returns successful_pings / total_pings, defaulting to 0.5
// when no pings have been attempted yet (neither trusted nor distrusted).
func (m *Metrics) Reliability() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pingCount == 0 {
		return 0.5
	}
	return float64(m.pingCount-m.pingFailures) / float64(m.pingCount)
}

// Snapshot is an immutable copy of a Metrics instance for logging/export.
type Snapshot struct {
	LatencyMS       float64
	HasLatency      bool
	UptimeSeconds   float64
	PingCount       uint32
	PingFailures    uint32
	ReliabilityRatio float64
}

func (m *Metrics) Snapshot() Snapshot {
	latency, has := m.Latency()
	count, failures := m.PingCounts()
	return Snapshot{
		LatencyMS:        float64(latency.Microseconds()) / 1000.0,
		HasLatency:       has,
		UptimeSeconds:    m.Uptime().Seconds(),
		PingCount:        count,
		PingFailures:     failures,
		ReliabilityRatio: m.Reliability(),
	}
}

// Info is everything known about one peer.
type Info struct {
	NodeID             string
	Address            net.Addr
	State              ConnectionState
	ProtocolVersion    uint8
	LastSeen           time.Time
	ConnectedAt        time.Time
	AddedAt            time.Time
	ConnectionAttempts uint32
	Metrics            *Metrics
}

// NewInfo creates a fresh, disconnected peer record.
func NewInfo(nodeID string, addr net.Addr) *Info {
	return &Info{
		NodeID:  nodeID,
		Address: addr,
		State:   Disconnected,
		AddedAt: time.Now(),
		Metrics: &Metrics{},
	}
}

// IsConnected reports whether the peer is in the Connected state.
func (p *Info) IsConnected() bool { return p.State == Connected }

// IsStale reports whether the peer has gone silent for longer than
// timeout, with a 30-second grace period after first being added so a
// peer mid-handshake isn't pruned out from under itself.
func (p *Info) IsStale(timeout time.Duration) bool {
	if time.Since(p.AddedAt) < 30*time.Second {
		return false
	}
	if !p.LastSeen.IsZero() {
		return time.Since(p.LastSeen) > timeout
	}
	return time.Since(p.AddedAt) > timeout
}
