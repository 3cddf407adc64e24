package node

import (
	"errors"
	"net"
	"time"

	"github.com/elysium-mesh/elysium/internal/content"
	"github.com/elysium-mesh/elysium/internal/inbox"
	"github.com/elysium-mesh/elysium/internal/logging"
	"github.com/elysium-mesh/elysium/internal/peer"
	"github.com/elysium-mesh/elysium/internal/router"
	"github.com/elysium-mesh/elysium/internal/transport"
	"github.com/elysium-mesh/elysium/internal/wire"
)

// readWatchdogInterval bounds how long the reader loop waits for a
// frame before injecting a ping to check the link is still alive.
// maxMissedPongs is how many consecutive watchdog pings may go
// unanswered before the connection is torn down — grounded on
// node.rs:1420-1451 (30s read timeout, disconnect at 3 missed pongs).
const (
	readWatchdogInterval = 30 * time.Second
	maxMissedPongs       = 3
)

// runConnection owns a fully-handshaken connection for its lifetime: a
// writer goroutine draining the peer's outbound channel, and a reader
// loop on the calling goroutine dispatching inbound frames until the
// connection dies. A rolling read deadline doubles as a liveness
// watchdog: silence past the interval injects a ping, and three
// consecutive silent intervals tear the connection down rather than
// leaving a half-open peer connected indefinitely.
func (n *Node) runConnection(conn net.Conn, peerID string, protocolVersion uint8, c *codec) {
	n.registerConnectedPeer(peerID, conn.RemoteAddr(), protocolVersion)
	ch := n.Registry.Open(peerID)
	n.events.publish(Event{Kind: EventPeerConnected, Timestamp: time.Now(), PeerID: peerID})

	go n.writerLoop(conn, ch, c)

	defer func() {
		ch.Close()
		n.Registry.Evict(ch)
		n.forgetSessionKey(peerID)
		n.Peers.SetState(peerID, peer.Disconnected)
		conn.Close()
		n.events.publish(Event{Kind: EventPeerDisconnected, Timestamp: time.Now(), PeerID: peerID})
	}()

	missedPongs := 0
	for {
		conn.SetReadDeadline(time.Now().Add(readWatchdogInterval))
		msg, err := c.readMessage(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				missedPongs++
				if missedPongs >= maxMissedPongs {
					logging.Warn("node: %s missed %d consecutive pongs, disconnecting", peerID, missedPongs)
					return
				}
				if !n.sendTo(peerID, &wire.Message{Type: wire.TypePing, Timestamp: time.Now().UnixNano()}) {
					return
				}
				continue
			}
			logging.Debug("node: connection to %s closed: %v", peerID, err)
			return
		}
		missedPongs = 0
		n.Peers.TouchLastSeen(peerID)
		n.dispatch(peerID, msg)
	}
}

func (n *Node) writerLoop(conn net.Conn, ch *transport.Channel, c *codec) {
	for {
		select {
		case msg, ok := <-ch.SendCh:
			if !ok {
				return
			}
			if err := c.writeMessage(conn, msg); err != nil {
				logging.Warn("node: write to %s failed: %v", ch.NodeID, err)
				return
			}
		case <-ch.Done():
			return
		}
	}
}

// dispatch routes one inbound wire.Message to its handler.
func (n *Node) dispatch(fromPeer string, msg *wire.Message) {
	switch msg.Type {
	case wire.TypePing:
		n.handlePing(fromPeer, msg)
	case wire.TypePong:
		n.handlePong(fromPeer, msg)
	case wire.TypePeerRequest:
		n.handlePeerRequest(fromPeer)
	case wire.TypePeerResponse:
		n.handlePeerResponse(msg)
	case wire.TypeMeshMessage:
		n.handleMeshMessage(fromPeer, msg)
	case wire.TypeContentRequest:
		n.handleContentRequest(fromPeer, msg)
	case wire.TypeContentReply:
		n.handleContentResponse(msg)
	case wire.TypeMessageAck:
		n.handleMessageAck(msg)
	case wire.TypeClose:
		logging.Debug("node: peer %s requested close: %s", fromPeer, msg.Reason)
	default:
		logging.Warn("node: unknown message type %q from %s", msg.Type, fromPeer)
	}
}

func (n *Node) handlePing(fromPeer string, msg *wire.Message) {
	n.sendTo(fromPeer, &wire.Message{Type: wire.TypePong, Timestamp: msg.Timestamp})
}

func (n *Node) handlePong(fromPeer string, msg *wire.Message) {
	n.pingMu.Lock()
	p, ok := n.pingWait[fromPeer]
	if ok {
		delete(n.pingWait, fromPeer)
	}
	n.pingMu.Unlock()
	if !ok {
		return
	}
	rtt := time.Since(p.sentAt)
	if info, ok := n.Peers.Get(fromPeer); ok {
		info.Metrics.UpdateLatency(rtt)
		info.Metrics.RecordPing(true)
	}
	select {
	case p.ch <- rtt:
	default:
	}
}

func (n *Node) handlePeerRequest(fromPeer string) {
	var addrs []string
	for _, info := range n.Peers.Connected() {
		if info.NodeID == fromPeer || info.Address == nil {
			continue
		}
		addrs = append(addrs, info.Address.String())
	}
	n.sendTo(fromPeer, &wire.Message{Type: wire.TypePeerResponse, Peers: addrs})
}

func (n *Node) handlePeerResponse(msg *wire.Message) {
	for _, addr := range msg.Peers {
		n.seedDialTarget(addr)
	}
}

// handleMeshMessage applies the router's admission rules, delivers to
// our inbox when it's addressed to us (or a broadcast), and forwards it
// on to the best-scoring peers unless it is directed at us specifically
// (a broadcast is both delivered and forwarded), logging the routing
// decision.
func (n *Node) handleMeshMessage(fromPeer string, wireMsg *wire.Message) {
	msg := router.FromWire(wireMsg)
	if !n.Router.ShouldProcess(msg) {
		return
	}
	n.Router.MarkSeen(msg.MessageID)

	if n.Router.IsForUs(msg) {
		n.deliverLocally(fromPeer, msg)
	}

	if msg.To != "" && msg.To == n.ID.NodeID {
		n.ackMessage(fromPeer, msg.MessageID)
		return // directed at us specifically: no further forwarding
	}

	n.forwardMeshMessage(fromPeer, msg)
}

func (n *Node) deliverLocally(fromPeer string, msg *router.Message) {
	rec := n.Inbox.Push(inbox.DirectionIn, inbox.KindMesh, fromPeer, msg.From, msg.To, msg.Data, msg.MessageID)
	n.events.publish(Event{
		Kind:      EventMessageReceived,
		Timestamp: rec.ReceivedAt,
		From:      msg.From,
		To:        msg.To,
		MessageID: msg.MessageID,
		Preview:   rec.Preview,
	})
}

func (n *Node) ackMessage(toPeer, messageID string) {
	n.sendTo(toPeer, &wire.Message{Type: wire.TypeMessageAck, AckMessageID: messageID})
}

func (n *Node) handleMessageAck(msg *wire.Message) {
	n.Inbox.MarkDelivered(msg.AckMessageID)
	n.events.publish(Event{Kind: EventDeliveryAcked, Timestamp: time.Now(), MessageID: msg.AckMessageID})
}

// forwardMeshMessage selects the best forward peers by the router's
// adaptive score and re-sends a TTL-decremented, path-extended copy to
// each, recording the outcome back into the router's route history.
func (n *Node) forwardMeshMessage(fromPeer string, msg *router.Message) {
	prepared := msg.PreparedForForwarding(n.ID.NodeID)
	if prepared.TTL == 0 {
		return
	}

	candidates := n.Peers.Connected()
	targets := n.Router.BestForwardPeers(prepared, candidates, n.Cfg.MaxForwardPeers)

	entry := router.LogEntry{
		Timestamp:      router.NowTimestamp(),
		MessageID:      msg.MessageID,
		NodeID:         n.ID.NodeID,
		FromPeer:       fromPeer,
		MessageContext: router.MessageContext{TTL: msg.TTL, PathLength: len(msg.Path), IsBroadcast: msg.IsBroadcast(), TargetPeer: msg.To},
	}
	for _, info := range candidates {
		entry.AvailablePeers = append(entry.AvailablePeers, router.SnapshotFromPeer(info))
	}

	for _, info := range targets {
		ok := n.sendTo(info.NodeID, prepared.ToWire())
		if ok {
			n.Router.RecordRouteSuccess(info.NodeID)
		} else {
			n.Router.RecordRouteFailure(info.NodeID)
		}
		entry.SelectedPeers = append(entry.SelectedPeers, router.PeerSelection{
			PeerID:  info.NodeID,
			Score:   n.Router.CalculateScore(info.NodeID, info.Metrics),
			Metrics: router.SnapshotFromPeer(info),
		})
	}
	n.routingLogger.Log(entry)
}

func (n *Node) handleContentRequest(fromPeer string, msg *wire.Message) {
	data, found, err := n.Content.Get(msg.ContentKey)
	if err != nil {
		logging.Warn("node: content lookup failed for %q: %v", msg.ContentKey, err)
		return
	}
	if found {
		n.sendTo(fromPeer, &wire.Message{
			Type:       wire.TypeContentReply,
			RequestID:  msg.RequestID,
			ContentKey: msg.ContentKey,
			Found:      true,
			Data:       data,
		})
		return
	}

	if msg.TTL == 0 {
		n.sendTo(fromPeer, &wire.Message{Type: wire.TypeContentReply, RequestID: msg.RequestID, ContentKey: msg.ContentKey, Found: false})
		return
	}

	// Not found locally: re-flood to our other connected peers with a
	// decremented TTL, the same flood-until-found shape mesh messages use.
	forwarded := &wire.Message{
		Type:       wire.TypeContentRequest,
		RequestID:  msg.RequestID,
		ContentKey: msg.ContentKey,
		TTL:        msg.TTL - 1,
	}
	for _, info := range n.Peers.Connected() {
		if info.NodeID == fromPeer {
			continue
		}
		n.sendTo(info.NodeID, forwarded)
	}
}

func (n *Node) handleContentResponse(msg *wire.Message) {
	n.Waiters.Resolve(msg.RequestID, content.Response{Found: msg.Found, Data: msg.Data})
}

// sendTo enqueues msg for delivery to peerID's writer goroutine,
// reporting whether a live channel existed for it.
func (n *Node) sendTo(peerID string, msg *wire.Message) bool {
	ch, ok := n.Registry.Get(peerID)
	if !ok {
		return false
	}
	return ch.Send(msg)
}
