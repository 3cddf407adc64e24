package node

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/elysium-mesh/elysium/internal/logging"
	"github.com/elysium-mesh/elysium/internal/peer"
	"github.com/elysium-mesh/elysium/internal/transport"
)

// dialQueue is the set of addresses worth attempting to connect to:
// configured bootstrap peers plus anything learned from peer_response
// gossip or the on-disk peer cache, deduplicated, each remembered with
// the time it was first added (added_at, used by the dialer's ranking).
type dialQueue struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

func newDialQueue() *dialQueue { return &dialQueue{pending: make(map[string]time.Time)} }

func (q *dialQueue) add(addr string) {
	q.mu.Lock()
	if _, ok := q.pending[addr]; !ok {
		q.pending[addr] = time.Now()
	}
	q.mu.Unlock()
}

func (q *dialQueue) snapshot() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]time.Time, len(q.pending))
	for addr, addedAt := range q.pending {
		out[addr] = addedAt
	}
	return out
}

// seedDialTarget adds addr as a future dial candidate, learned either
// from configuration, the peer cache, or a peer_response gossip reply.
func (n *Node) seedDialTarget(addr string) {
	n.dialQueue.add(addr)
}

// dialLoop periodically attempts to connect to every address in the
// dial queue that isn't already a live peer and whose backoff has
// elapsed, bounded by the dial concurrency limiter.
func (n *Node) dialLoop() {
	defer n.wg.Done()

	for _, addr := range n.Cfg.BootstrapPeers {
		n.dialQueue.add(addr)
	}
	if cached, err := peer.LoadCache(filepath.Join(n.Cfg.DataDir, "peers.json")); err == nil {
		for _, c := range cached {
			n.dialQueue.add(c.Address)
		}
	}

	ticker := time.NewTicker(n.Cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.attemptDials()
		}
	}
}

// dialCandidate is one address ready to be ranked for this tick's dial
// selection.
type dialCandidate struct {
	addr       string
	addedAt    time.Time
	attempts   int
	latency    time.Duration
	hasLatency bool
}

// attemptDials gates dialing on the total connection cap (spec §5/§8:
// peer count never exceeds max_connections, so the dialer simply does
// not issue new connects above it) and, within the remaining slots,
// ranks candidates by ascending attempts, descending added_at, then
// ascending latency (unknown latency sorts last) before dispatching —
// spec §4.3's candidate selection.
func (n *Node) attemptDials() {
	slots := n.Cfg.MaxConnections - len(n.Peers.Connected())
	if slots <= 0 {
		return
	}

	var candidates []dialCandidate
	for addr, addedAt := range n.dialQueue.snapshot() {
		if n.alreadyConnectedTo(addr) {
			continue
		}
		if !n.backoff.Ready(addr) {
			continue
		}
		attempts := n.backoff.Attempts(addr)
		if attempts >= n.Cfg.MaxConnectAttempts {
			continue
		}
		latency, hasLatency := n.knownLatency(addr)
		candidates = append(candidates, dialCandidate{
			addr:       addr,
			addedAt:    addedAt,
			attempts:   attempts,
			latency:    latency,
			hasLatency: hasLatency,
		})
	}

	rankDialCandidates(candidates)

	if len(candidates) > slots {
		candidates = candidates[:slots]
	}
	for _, c := range candidates {
		go n.dialOne(c.addr)
	}
}

// rankDialCandidates sorts candidates in place by ascending attempts,
// descending added_at, then ascending latency — unknown latency always
// sorts last, since a never-measured peer is a less certain bet than
// one with a known round-trip time.
func rankDialCandidates(candidates []dialCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.attempts != b.attempts {
			return a.attempts < b.attempts
		}
		if !a.addedAt.Equal(b.addedAt) {
			return a.addedAt.After(b.addedAt)
		}
		if a.hasLatency != b.hasLatency {
			return a.hasLatency
		}
		if !a.hasLatency && !b.hasLatency {
			return false
		}
		return a.latency < b.latency
	})
}

// knownLatency looks up the latency EMA of any known peer currently
// reachable at addr — dial candidates are bare addresses, not yet peer
// records, so this scans the known peer set for a match.
func (n *Node) knownLatency(addr string) (time.Duration, bool) {
	for _, info := range n.Peers.All() {
		if info.Address != nil && info.Address.String() == addr {
			return info.Metrics.Latency()
		}
	}
	return 0, false
}

func (n *Node) alreadyConnectedTo(addr string) bool {
	for _, info := range n.Peers.Connected() {
		if info.Address != nil && info.Address.String() == addr {
			return true
		}
	}
	return false
}

func (n *Node) dialOne(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.Cfg.ConnectBackoffMax)
	defer cancel()

	if err := n.dialLimiter.Acquire(ctx); err != nil {
		return
	}
	defer n.dialLimiter.Release()

	n.backoff.RecordAttempt(addr)

	conn, err := transport.Dial(ctx, addr, 10*time.Second)
	if err != nil {
		logging.Debug("node: dial %s failed: %v", addr, err)
		return
	}

	peerID, protocolVersion, c, err := n.dialAndHandshake(conn)
	if err != nil {
		logging.Warn("node: handshake with %s failed: %v", addr, err)
		conn.Close()
		return
	}

	n.backoff.RecordSuccess(addr)
	n.runConnection(conn, peerID, protocolVersion, c)
}
