package node

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/elysium-mesh/elysium/internal/identity"
	"github.com/elysium-mesh/elysium/internal/logging"
	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/peer"
	"github.com/elysium-mesh/elysium/internal/session"
	"github.com/elysium-mesh/elysium/internal/wire"
)

// handshakeTimeout bounds how long either side of a new connection waits
// for the handshake to complete before giving up.
const handshakeTimeout = 10 * time.Second

// codec frames application messages onto a connection, encrypting with
// the per-link AES session key once the handshake has established one.
// The handshake frames themselves are always sent in the clear (there is
// no key yet to protect them with) — grounded on node.rs's
// send_message_to_stream, which falls back to a plain frame whenever no
// session key exists for the peer yet.
type codec struct {
	key []byte
}

func (c *codec) writeMessage(w io.Writer, msg *wire.Message) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if c.key != nil {
		payload, err = session.Encrypt(payload, c.key)
		if err != nil {
			return err
		}
	}
	return wire.WriteFrame(w, payload)
}

func (c *codec) readMessage(r io.Reader) (*wire.Message, error) {
	payload, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if c.key != nil {
		payload, err = session.Decrypt(payload, c.key)
		if err != nil {
			return nil, err
		}
	}
	return wire.Decode(payload)
}

// writeHandshakeMessage and readHandshakeMessage frame the two
// handshake messages (always cleartext — there is no session key yet)
// through the tighter handshake length bound, rather than the general
// MaxFrameSize used once a connection is established.
func (c *codec) writeHandshakeMessage(w io.Writer, msg *wire.Message) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return wire.WriteHandshakeFrame(w, payload)
}

func (c *codec) readHandshakeMessage(r io.Reader) (*wire.Message, error) {
	payload, err := wire.ReadHandshakeFrame(r)
	if err != nil {
		return nil, err
	}
	return wire.Decode(payload)
}

// checkProtocolVersion rejects a handshake whose announced
// protocol_version doesn't match this implementation's exactly.
func checkProtocolVersion(announced uint8) error {
	if announced != wire.ProtocolVersion {
		return meshlink.New(meshlink.KindProtocol, fmt.Sprintf("protocol_version mismatch: peer announced %d, want %d", announced, wire.ProtocolVersion))
	}
	return nil
}

// handleInbound runs the responder side of a freshly accepted connection:
// it performs the handshake, registers the peer, and hands off to the
// shared connection loop.
func (n *Node) handleInbound(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	peerID, protocolVersion, c, err := n.respondHandshake(conn)
	conn.SetDeadline(time.Time{})
	if err != nil {
		logging.Warn("node: inbound handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	n.runConnection(conn, peerID, protocolVersion, c)
}

// dialAndHandshake runs the initiator side over conn, returning the
// established peer_id, the peer's announced protocol version, and codec
// on success.
func (n *Node) dialAndHandshake(conn net.Conn) (string, uint8, *codec, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	return n.initiateHandshake(conn)
}

// initiateHandshake sends our Handshake frame and processes the
// responder's HandshakeAck, establishing the shared AES session key.
func (n *Node) initiateHandshake(conn net.Conn) (string, uint8, *codec, error) {
	c := &codec{}

	pubDER, err := n.ID.Manager.PublicKeyDER()
	if err != nil {
		return "", 0, nil, err
	}

	hello := &wire.Message{
		Type:            wire.TypeHandshake,
		NodeID:          n.ID.NodeID,
		ProtocolVersion: wire.ProtocolVersion,
		ListenPort:      listenPort(n.Cfg.ListenAddr),
		PublicKey:       pubDER,
	}
	if err := c.writeHandshakeMessage(conn, hello); err != nil {
		return "", 0, nil, err
	}

	ack, err := c.readHandshakeMessage(conn)
	if err != nil {
		return "", 0, nil, err
	}
	if ack.Type != wire.TypeHandshakeAck {
		return "", 0, nil, meshlink.New(meshlink.KindProtocol, "expected handshake_ack")
	}
	if err := checkProtocolVersion(ack.ProtocolVersion); err != nil {
		return "", 0, nil, err
	}

	sessionKey, err := n.ID.Manager.DecryptWithPrivateKey(ack.EncryptedKey)
	if err != nil {
		return "", 0, nil, meshlink.Wrap(meshlink.KindProtocol, "unwrap session key", err)
	}
	c.key = sessionKey

	if err := verifyPeerIdentity(ack.NodeID, ack.PublicKey); err != nil {
		return "", 0, nil, err
	}

	n.rememberSessionKey(ack.NodeID, sessionKey)
	return ack.NodeID, ack.ProtocolVersion, c, nil
}

// respondHandshake reads the initiator's Handshake frame, generates a
// fresh AES session key for the link, and wraps it under the initiator's
// RSA public key in our HandshakeAck — meshlink_core's SessionKeyManager
// behavior, generalized to our node_id-keyed session map.
func (n *Node) respondHandshake(conn net.Conn) (string, uint8, *codec, error) {
	c := &codec{}

	hello, err := c.readHandshakeMessage(conn)
	if err != nil {
		return "", 0, nil, err
	}
	if hello.Type != wire.TypeHandshake {
		return "", 0, nil, meshlink.New(meshlink.KindProtocol, "expected handshake")
	}
	if err := checkProtocolVersion(hello.ProtocolVersion); err != nil {
		return "", 0, nil, err
	}
	if err := verifyPeerIdentity(hello.NodeID, hello.PublicKey); err != nil {
		return "", 0, nil, err
	}

	peerPub, err := session.ParsePublicKeyDER(hello.PublicKey)
	if err != nil {
		return "", 0, nil, err
	}

	sessionKey, err := session.GenerateKey()
	if err != nil {
		return "", 0, nil, err
	}
	wrappedKey, err := session.EncryptWithPublicKey(sessionKey, peerPub)
	if err != nil {
		return "", 0, nil, err
	}

	ourPubDER, err := n.ID.Manager.PublicKeyDER()
	if err != nil {
		return "", 0, nil, err
	}

	ack := &wire.Message{
		Type:            wire.TypeHandshakeAck,
		NodeID:          n.ID.NodeID,
		ProtocolVersion: wire.ProtocolVersion,
		ListenPort:      listenPort(n.Cfg.ListenAddr),
		PublicKey:       ourPubDER,
		EncryptedKey:    wrappedKey,
	}
	if err := c.writeHandshakeMessage(conn, ack); err != nil {
		return "", 0, nil, err
	}
	c.key = sessionKey

	n.rememberSessionKey(hello.NodeID, sessionKey)
	return hello.NodeID, hello.ProtocolVersion, c, nil
}

// verifyPeerIdentity recomputes node_id from the presented public key
// and rejects the handshake if it doesn't match what was claimed —
// node_id is self-certifying, so a mismatch means either corruption or
// an impersonation attempt.
func verifyPeerIdentity(claimedNodeID string, pubDER []byte) error {
	pub, err := session.ParsePublicKeyDER(pubDER)
	if err != nil {
		return err
	}
	derived, err := identity.DeriveNodeID(pub)
	if err != nil {
		return err
	}
	if derived != claimedNodeID {
		return meshlink.New(meshlink.KindProtocol, "node_id does not match presented public key")
	}
	return nil
}

func (n *Node) rememberSessionKey(peerID string, key []byte) {
	n.sessionMu.Lock()
	n.sessionKeys[peerID] = key
	n.sessionMu.Unlock()
}

func (n *Node) forgetSessionKey(peerID string) {
	n.sessionMu.Lock()
	delete(n.sessionKeys, peerID)
	n.sessionMu.Unlock()
}

// registerConnectedPeer folds a freshly handshaken connection into the
// peer manager's state machine. A prior connection to the same peer
// that never reached Disconnected (e.g. its cleanup goroutine hasn't run
// yet) is force-reset first so the Connecting->Handshaking->Connected
// walk is always a legal sequence of edges.
func (n *Node) registerConnectedPeer(peerID string, addr net.Addr, protocolVersion uint8) {
	info := n.Peers.AddOrTouch(peerID, addr)
	if info.State != peer.Disconnected {
		n.Peers.SetState(peerID, peer.Disconnected)
	}
	n.Peers.SetState(peerID, peer.Connecting)
	n.Peers.SetState(peerID, peer.Handshaking)
	n.Peers.SetState(peerID, peer.Connected)
	n.Peers.SetProtocolVersion(peerID, protocolVersion)
}
