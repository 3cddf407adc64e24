package router

import (
	"sort"
	"sync"
	"time"

	"github.com/elysium-mesh/elysium/internal/peer"
)

// Score weights, fixed by spec.md "for reproducibility" rather than
// taken from ai/stats_collector.rs's alternate 0.3/0.2/0.5 scheme.
const (
	weightLatency     = 0.4
	weightUptime      = 0.2
	weightReliability = 0.3
	weightHistory     = 0.1
)

// latencyScoreCeiling is the round-trip time at or above which the
// latency component bottoms out at zero; below it, score falls off
// linearly. Fixed at 1000ms by spec.md "for reproducibility", matching
// stats_collector.rs's calculate_latency_score (a 10ms peer must
// clearly outscore a 1000ms peer).
const latencyScoreCeiling = 1000 * time.Millisecond

// uptimeScoreCeiling is the cumulative uptime at or above which the
// uptime component saturates at one.
const uptimeScoreCeiling = 1 * time.Hour

// routeHistory accumulates recent forwarding outcomes for one peer,
// grounded on router.rs's record_route_success/record_route_failure and
// Router::calculate_peer_score's optional history parameter.
type routeHistory struct {
	successes int
	failures  int
}

func (h *routeHistory) successRate() float64 {
	total := h.successes + h.failures
	if total == 0 {
		return 0.5
	}
	return float64(h.successes) / float64(total)
}

// Router implements flood-based routing with deduplication, loop
// prevention, and adaptive score-based forward-peer selection.
type Router struct {
	ourNodeID string
	dedup     *Dedup
	logger    *Logger

	historyMu sync.Mutex
	history   map[string]*routeHistory
}

// New constructs a Router for ourNodeID with the given dedup windows.
func New(ourNodeID string, dedupWindow, dedupRetention time.Duration) *Router {
	return &Router{
		ourNodeID: ourNodeID,
		dedup:     NewDedup(dedupWindow, dedupRetention),
		history:   make(map[string]*routeHistory),
	}
}

// SetLogger attaches a routing-decision logger; nil disables logging.
func (r *Router) SetLogger(l *Logger) { r.logger = l }

// ShouldProcess applies the admission rules from spec.md: ttl must be
// positive, the message must not have been seen recently, and our
// node_id must not already be in its path.
func (r *Router) ShouldProcess(msg *Message) bool {
	if msg.TTL == 0 {
		return false
	}
	if r.dedup.SeenRecently(msg.MessageID) {
		return false
	}
	for _, hop := range msg.Path {
		if hop == r.ourNodeID {
			return false
		}
	}
	return true
}

// MarkSeen records a message as processed so it won't be admitted again
// within the suppress window.
func (r *Router) MarkSeen(messageID string) { r.dedup.MarkSeen(messageID) }

// IsForUs reports whether msg is addressed to us, or is a broadcast.
func (r *Router) IsForUs(msg *Message) bool {
	return msg.IsBroadcast() || msg.To == r.ourNodeID
}

// RecordRouteSuccess folds a successful forward to peerID into its
// route history.
func (r *Router) RecordRouteSuccess(peerID string) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	h := r.historyFor(peerID)
	h.successes++
}

// RecordRouteFailure folds a failed forward to peerID into its route
// history.
func (r *Router) RecordRouteFailure(peerID string) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	h := r.historyFor(peerID)
	h.failures++
}

func (r *Router) historyFor(peerID string) *routeHistory {
	h, ok := r.history[peerID]
	if !ok {
		h = &routeHistory{}
		r.history[peerID] = h
	}
	return h
}

// CalculateScore computes a peer's forwarding desirability in [0, 1]
// from its metrics and (if it has one) its accumulated route history.
func (r *Router) CalculateScore(peerID string, metrics *peer.Metrics) float64 {
	latency, hasLatency := metrics.Latency()
	// stats_collector.rs:137-143 defaults unmeasured latency to 0.5,
	// neither rewarding nor penalizing a peer we haven't pinged yet.
	latencyComponent := 0.5
	if hasLatency {
		latencyComponent = clamp01(1.0 - float64(latency)/float64(latencyScoreCeiling))
	}

	uptimeComponent := clamp01(metrics.Uptime().Seconds() / uptimeScoreCeiling.Seconds())
	reliabilityComponent := metrics.Reliability()

	r.historyMu.Lock()
	h, hasHistory := r.history[peerID]
	r.historyMu.Unlock()

	historyComponent := 0.5
	if hasHistory {
		historyComponent = h.successRate()
	}

	return weightLatency*latencyComponent +
		weightUptime*uptimeComponent +
		weightReliability*reliabilityComponent +
		weightHistory*historyComponent
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scoredPeer pairs a peer with its computed score for sorting.
type scoredPeer struct {
	info  *peer.Info
	score float64
}

// BestForwardPeers selects up to topN eligible peers, ranked by score
// descending, excluding the sender and anyone already in the message's
// path (loop prevention applies to selection as well as admission).
func (r *Router) BestForwardPeers(msg *Message, candidates []*peer.Info, topN int) []*peer.Info {
	inPath := make(map[string]bool, len(msg.Path))
	for _, hop := range msg.Path {
		inPath[hop] = true
	}

	scored := make([]scoredPeer, 0, len(candidates))
	for _, p := range candidates {
		if p.NodeID == msg.From || inPath[p.NodeID] {
			continue
		}
		if !p.IsConnected() {
			continue
		}
		scored = append(scored, scoredPeer{info: p, score: r.CalculateScore(p.NodeID, p.Metrics)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if topN > len(scored) {
		topN = len(scored)
	}
	out := make([]*peer.Info, topN)
	for i := 0; i < topN; i++ {
		out[i] = scored[i].info
	}
	return out
}
