package node

import (
	"encoding/json"
	"time"

	"github.com/elysium-mesh/elysium/internal/bundle"
	"github.com/elysium-mesh/elysium/internal/content"
	"github.com/elysium-mesh/elysium/internal/inbox"
	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/router"
	"github.com/elysium-mesh/elysium/internal/wire"
)

// SendMessage floods data to the mesh, addressed to toNodeID (empty for
// a broadcast), returning the message_id assigned for correlation with
// a later delivery ack.
func (n *Node) SendMessage(toNodeID string, data []byte) string {
	msg := router.NewMessage(n.ID.NodeID, toNodeID, data, n.Cfg.DefaultTTL)
	msg.Path = []string{n.ID.NodeID}
	n.Inbox.Push(inbox.DirectionOut, inbox.KindData, toNodeID, n.ID.NodeID, toNodeID, data, msg.MessageID)

	connected := n.Peers.Connected()
	targets := n.Router.BestForwardPeers(msg, connected, n.Cfg.MaxForwardPeers)
	if toNodeID != "" {
		// A directed message always goes out on every live link that can
		// carry it, not just the router's top-scoring subset, so delivery
		// doesn't depend on the sender's own forwarding heuristic.
		targets = connected
	}
	for _, info := range targets {
		n.sendTo(info.NodeID, msg.ToWire())
	}
	return msg.MessageID
}

// Ping round-trips a ping/pong with peerID, returning the measured
// latency. Only one ping may be in flight per peer at a time.
func (n *Node) Ping(peerID string, timeout time.Duration) (time.Duration, error) {
	ch := make(chan time.Duration, 1)
	n.pingMu.Lock()
	if _, inFlight := n.pingWait[peerID]; inFlight {
		n.pingMu.Unlock()
		return 0, meshlink.New(meshlink.KindPeer, "ping already in progress")
	}
	n.pingWait[peerID] = pendingPing{sentAt: time.Now(), ch: ch}
	n.pingMu.Unlock()

	sentAt := time.Now().UnixNano()
	if !n.sendTo(peerID, &wire.Message{Type: wire.TypePing, Timestamp: sentAt}) {
		n.pingMu.Lock()
		delete(n.pingWait, peerID)
		n.pingMu.Unlock()
		return 0, meshlink.New(meshlink.KindPeer, "no live connection to peer")
	}

	select {
	case rtt := <-ch:
		return rtt, nil
	case <-time.After(timeout):
		n.pingMu.Lock()
		delete(n.pingWait, peerID)
		n.pingMu.Unlock()
		if info, ok := n.Peers.Get(peerID); ok {
			info.Metrics.RecordPing(false)
		}
		return 0, meshlink.New(meshlink.KindTimeout, "ping timed out")
	}
}

// FetchContent requests key from the mesh, trying the local store first
// and flooding a content_request otherwise, waiting up to timeout for a
// content_response to resolve it.
func (n *Node) FetchContent(key string, timeout time.Duration) (*content.Response, error) {
	if data, ok, err := n.Content.Get(key); err != nil {
		return nil, err
	} else if ok {
		return &content.Response{Found: true, Data: data}, nil
	}

	requestID, ch := n.Waiters.Register()
	req := &wire.Message{
		Type:       wire.TypeContentRequest,
		RequestID:  requestID,
		ContentKey: key,
		TTL:        content.DefaultFetchTTL,
	}
	sent := false
	for _, info := range n.Peers.Connected() {
		if n.sendTo(info.NodeID, req) {
			sent = true
		}
	}
	if !sent {
		n.Waiters.Cancel(requestID)
		return nil, meshlink.New(meshlink.KindConnection, "no connected peers to query")
	}

	resp, err := n.Waiters.Fetch(requestID, ch, timeout)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublishProfile stores our profile locally under our well-known content
// key, ready to be served the next time a peer fetches it.
func (n *Node) PublishProfile(profile content.Profile) error {
	return n.Content.PublishProfile(n.ID.NodeID, profile)
}

// FetchProfile retrieves nodeID's profile, locally if we have it,
// otherwise over the mesh via the content-fetch protocol.
func (n *Node) FetchProfile(nodeID string, timeout time.Duration) (*content.Profile, error) {
	resp, err := n.FetchContent(content.ProfileKey(nodeID), timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, meshlink.New(meshlink.KindPeer, "profile not found")
	}
	var p content.Profile
	if err := json.Unmarshal(resp.Data, &p); err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "unmarshal profile", err)
	}
	return &p, nil
}

// ExportBundle packages every inbox message in conversationID into a
// time-bounded bundle file at path, for offline store-and-forward.
func (n *Node) ExportBundle(conversationID, path string, ttl time.Duration) error {
	messages := n.Inbox.ListConversation(conversationID)
	entries := make([]bundle.Entry, len(messages))
	for i, m := range messages {
		entries[i] = bundle.Entry{From: m.From, To: m.To, Data: m.Data, MessageID: m.MessageID}
	}
	return bundle.New(entries, ttl).Save(path)
}

// ImportBundle loads a bundle from path and delivers its messages
// straight into the local inbox. Expired bundles are rejected.
func (n *Node) ImportBundle(path string) (bundle.ImportResult, error) {
	b, err := bundle.Load(path)
	if err != nil {
		return bundle.ImportResult{}, err
	}
	if b.Expired() {
		return bundle.ImportResult{Skipped: len(b.Messages)}, meshlink.New(meshlink.KindProtocol, "bundle has expired")
	}

	result := bundle.ImportResult{}
	for _, entry := range b.Messages {
		n.Inbox.Push(inbox.DirectionIn, inbox.KindData, entry.From, entry.From, entry.To, entry.Data, entry.MessageID)
		result.Delivered++
	}
	return result, nil
}
