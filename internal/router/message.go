// Package router implements Elysium's flood-based mesh routing: message
// deduplication, loop prevention, and score-based forward-peer selection.
// Grounded on meshlink_core's ai/router.rs (flood/dedup/loop logic) and
// ai/routing_logger.rs (the routing-decision log schema), with scoring
// weights fixed by spec.md rather than the alternate weighting found in
// ai/stats_collector.rs.
package router

import (
	"github.com/google/uuid"

	"github.com/elysium-mesh/elysium/internal/wire"
)

// Message is the domain-level mesh message the router operates on,
// independent of its wire encoding.
type Message struct {
	From      string
	To        string // empty = broadcast
	Data      []byte
	MessageID string
	TTL       uint8
	Path      []string
}

// NewMessage creates an outbound message with a fresh message_id and
// defaultTTL hops to live.
func NewMessage(from, to string, data []byte, defaultTTL uint8) *Message {
	return &Message{
		From:      from,
		To:        to,
		Data:      data,
		MessageID: uuid.NewString(),
		TTL:       defaultTTL,
	}
}

// IsBroadcast reports whether this message has no specific recipient.
func (m *Message) IsBroadcast() bool { return m.To == "" }

// FromWire converts a received wire.Message of type mesh_message into
// the router's domain Message.
func FromWire(msg *wire.Message) *Message {
	path := make([]string, len(msg.Path))
	copy(path, msg.Path)
	return &Message{
		From:      msg.From,
		To:        msg.To,
		Data:      msg.Data,
		MessageID: msg.MessageID,
		TTL:       msg.TTL,
		Path:      path,
	}
}

// ToWire converts a domain Message into its wire representation.
func (m *Message) ToWire() *wire.Message {
	path := make([]string, len(m.Path))
	copy(path, m.Path)
	return &wire.Message{
		Type:      wire.TypeMeshMessage,
		From:      m.From,
		To:        m.To,
		Data:      m.Data,
		MessageID: m.MessageID,
		TTL:       m.TTL,
		Path:      path,
	}
}

// PreparedForForwarding returns a copy of m with TTL decremented (never
// below zero) and our node_id appended to the path, ready to pass on to
// the next hop.
func (m *Message) PreparedForForwarding(ourNodeID string) *Message {
	next := *m
	if next.TTL > 0 {
		next.TTL--
	}
	next.Path = append(append([]string{}, m.Path...), ourNodeID)
	return &next
}
