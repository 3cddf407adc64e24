// Package discovery implements the LAN peer-discovery collaborator: a
// periodic UDP broadcast announcing this node's identity and listen
// port, and a listener turning received announcements into
// (node_id, address, public_key) tuples. Grounded on
// original_source/core/src/p2p/discovery.rs's DiscoveryMessage/
// DiscoveryManager, translated from its tokio broadcast/listen tasks
// into goroutines over net.UDPConn, with the same 5-second per-peer
// rate limit.
package discovery

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/elysium-mesh/elysium/internal/logging"
	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// Announcement is the UDP broadcast payload, sent once per interval.
type Announcement struct {
	NodeID     string `json:"node_id"`
	ListenPort uint16 `json:"listen_port"`
	PublicKey  string `json:"public_key"` // base64-encoded PKIX DER
	Timestamp  int64  `json:"timestamp"`
}

// Peer is one discovered peer, ready to hand to the dial queue.
type Peer struct {
	NodeID    string
	Address   net.Addr
	PublicKey []byte
}

const (
	broadcastInterval = 1 * time.Second
	reannounceWindow  = 5 * time.Second
	maxDatagramSize   = 2048
)

// Manager runs the broadcaster and listener for one node's discovery
// port, publishing discovered peers on Peers.
type Manager struct {
	nodeID       string
	listenPort   uint16
	publicKeyDER []byte
	port         int

	Peers chan Peer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a discovery Manager bound to discoveryPort, announcing
// nodeID/listenPort/publicKeyDER.
func New(nodeID string, listenPort uint16, publicKeyDER []byte, discoveryPort int) *Manager {
	return &Manager{
		nodeID:       nodeID,
		listenPort:   listenPort,
		publicKeyDER: publicKeyDER,
		port:         discoveryPort,
		Peers:        make(chan Peer, 32),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the broadcast and listen loops.
func (m *Manager) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: m.port})
	if err != nil {
		return meshlink.Wrap(meshlink.KindConnection, "bind discovery socket", err)
	}

	m.wg.Add(2)
	go m.listenLoop(conn)
	go m.broadcastLoop()
	return nil
}

// Stop signals both loops to exit and waits for them to finish.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	close(m.Peers)
}

func (m *Manager) broadcastLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.broadcastOnce()
		}
	}
}

func (m *Manager) broadcastOnce() {
	msg := Announcement{
		NodeID:     m.nodeID,
		ListenPort: m.listenPort,
		PublicKey:  base64.StdEncoding.EncodeToString(m.publicKeyDER),
		Timestamp:  time.Now().Unix(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return
	}
	defer conn.Close()

	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: m.port}
	if _, err := conn.WriteTo(payload, addr); err != nil {
		logging.Debug("discovery: broadcast failed: %v", err)
	}
}

func (m *Manager) listenLoop(conn *net.UDPConn) {
	defer m.wg.Done()
	defer conn.Close()

	go func() {
		<-m.stopCh
		conn.Close()
	}()

	lastSeen := make(map[string]time.Time)
	buf := make([]byte, maxDatagramSize)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				logging.Debug("discovery: read failed: %v", err)
				continue
			}
		}

		var msg Announcement
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if !shouldProcess(lastSeen, msg, m.nodeID, time.Now()) {
			continue
		}
		lastSeen[msg.NodeID] = time.Now()

		pubDER, err := base64.StdEncoding.DecodeString(msg.PublicKey)
		if err != nil {
			continue
		}
		peerAddr := &net.TCPAddr{IP: addr.IP, Port: int(msg.ListenPort)}

		select {
		case m.Peers <- Peer{NodeID: msg.NodeID, Address: peerAddr, PublicKey: pubDER}:
		default: // a slow consumer shouldn't stall the discovery listener
		}
	}
}

// shouldProcess reports whether an announcement from msg is worth acting
// on: not our own, and not reannounced within reannounceWindow of the
// last time we processed that peer.
func shouldProcess(lastSeen map[string]time.Time, msg Announcement, selfID string, now time.Time) bool {
	if msg.NodeID == selfID {
		return false
	}
	if last, ok := lastSeen[msg.NodeID]; ok && now.Sub(last) < reannounceWindow {
		return false
	}
	return true
}
