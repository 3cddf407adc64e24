// Package wire defines the Elysium connection protocol: the message
// union exchanged between two connected peers, and the length-prefixed
// framing it rides on. Grounded on meshlink_core's p2p/protocol.rs
// Message enum and Frame, enriched with the fields node.rs's call sites
// and spec.md's data model require (handshake public_key, content
// fetch, message acknowledgement) that the earliest protocol.rs snapshot
// predates.
package wire

import (
	"encoding/json"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// ProtocolVersion is the wire protocol version advertised during the
// handshake.
const ProtocolVersion uint8 = 1

// Type identifies the concrete shape of a Message.
type Type string

const (
	TypeHandshake      Type = "handshake"
	TypeHandshakeAck   Type = "handshake_ack"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypePeerRequest    Type = "peer_request"
	TypePeerResponse   Type = "peer_response"
	TypeClose          Type = "close"
	TypeMeshMessage    Type = "mesh_message"
	TypeContentRequest Type = "content_request"
	TypeContentReply   Type = "content_response"
	TypeMessageAck     Type = "message_ack"
)

// Message is the tagged union of every frame exchanged over a raw
// connection. Exactly one payload field is populated, matching which
// Type is set; unused fields are omitted from the wire encoding.
type Message struct {
	Type Type `json:"type"`

	// handshake / handshake_ack
	NodeID          string `json:"node_id,omitempty"`
	ProtocolVersion uint8  `json:"protocol_version,omitempty"`
	ListenPort      uint16 `json:"listen_port,omitempty"`
	PublicKey       []byte `json:"public_key,omitempty"`
	EncryptedKey    []byte `json:"encrypted_key,omitempty"` // HandshakeAck: session key, RSA-OAEP wrapped
	Nonce           []byte `json:"nonce,omitempty"`

	// ping / pong
	Timestamp int64 `json:"timestamp,omitempty"`

	// peer_response
	Peers []string `json:"peers,omitempty"`

	// close
	Reason string `json:"reason,omitempty"`

	// mesh_message
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"` // empty = broadcast
	Data      []byte   `json:"data,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	TTL       uint8    `json:"ttl,omitempty"`
	Path      []string `json:"path,omitempty"`

	// content_request / content_response
	RequestID  string `json:"request_id,omitempty"`
	ContentKey string `json:"content_key,omitempty"`
	Found      bool   `json:"found,omitempty"`

	// message_ack
	AckMessageID string `json:"ack_message_id,omitempty"`
}

// Encode serializes a Message to JSON, the payload carried inside a
// Frame.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "encode message", err)
	}
	return data, nil
}

// Decode parses a Message from JSON.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "decode message", err)
	}
	return &msg, nil
}
