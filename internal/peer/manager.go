package peer

import (
	"net"
	"sync"
	"time"
)

// validTransitions encodes the allowed ConnectionState transition table.
// A peer can be forced to Disconnected (connection died) from any state
// but Disconnected; Closing (local shutdown) is entered only from
// Connected. Otherwise it must follow the lifecycle
// Disconnected -> Connecting -> Handshaking -> Connected.
var validTransitions = map[ConnectionState]map[ConnectionState]bool{
	Disconnected: {Connecting: true},
	Connecting:   {Handshaking: true, Disconnected: true},
	Handshaking:  {Connected: true, Disconnected: true},
	Connected:    {Closing: true, Disconnected: true},
	Closing:      {Disconnected: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// state-machine edge.
func CanTransition(from, to ConnectionState) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// Manager tracks the set of known peers and their connection state,
// guarded by a single RWMutex the way repram's gossip Protocol guards
// its peer map.
type Manager struct {
	mu         sync.RWMutex
	peers      map[string]*Info
	ourNodeID  string
	listenPort uint16
}

// NewManager creates an empty peer manager.
func NewManager(ourNodeID string, listenPort uint16) *Manager {
	return &Manager{
		peers:      make(map[string]*Info),
		ourNodeID:  ourNodeID,
		listenPort: listenPort,
	}
}

// AddOrTouch inserts a new peer record, or refreshes the address and
// last-seen timestamp of an existing one.
func (m *Manager) AddOrTouch(nodeID string, addr net.Addr) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[nodeID]; ok {
		p.Address = addr
		p.LastSeen = time.Now()
		return p
	}
	p := NewInfo(nodeID, addr)
	m.peers[nodeID] = p
	return p
}

// Get returns the peer record for nodeID, if known.
func (m *Manager) Get(nodeID string) (*Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[nodeID]
	return p, ok
}

// SetState transitions a peer to newState, rejecting illegal edges.
// Returns false if the peer is unknown or the transition is illegal.
func (m *Manager) SetState(nodeID string, newState ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[nodeID]
	if !ok {
		return false
	}
	if !CanTransition(p.State, newState) {
		return false
	}
	p.State = newState
	switch newState {
	case Connected:
		now := time.Now()
		p.ConnectedAt = now
		p.LastSeen = now
		p.Metrics.MarkConnected()
	case Disconnected, Closing:
		p.Metrics.MarkDisconnected()
	}
	return true
}

// SetProtocolVersion records the protocol version a peer announced
// during its handshake.
func (m *Manager) SetProtocolVersion(nodeID string, version uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[nodeID]; ok {
		p.ProtocolVersion = version
	}
}

// TouchLastSeen updates a peer's last-seen timestamp to now.
func (m *Manager) TouchLastSeen(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[nodeID]; ok {
		p.LastSeen = time.Now()
	}
}

// IncrementConnectionAttempts bumps a peer's attempt counter.
func (m *Manager) IncrementConnectionAttempts(nodeID string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[nodeID]; ok {
		p.ConnectionAttempts++
		return p.ConnectionAttempts
	}
	return 0
}

// All returns every known peer.
func (m *Manager) All() []*Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Info, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Connected returns only peers currently in the Connected state.
func (m *Manager) Connected() []*Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Info, 0, len(m.peers))
	for _, p := range m.peers {
		if p.IsConnected() {
			out = append(out, p)
		}
	}
	return out
}

// RemoveStale drops peers that are idle, stale, and not mid-connection,
// returning how many were removed.
func (m *Manager) RemoveStale(timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, p := range m.peers {
		if p.State == Connecting || p.State == Handshaking || p.State == Connected {
			continue
		}
		if p.IsStale(timeout) {
			delete(m.peers, id)
			removed++
		}
	}
	return removed
}

// Remove drops a single peer unconditionally (e.g. after a fatal
// protocol error).
func (m *Manager) Remove(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, nodeID)
}
