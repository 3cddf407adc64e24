package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// MaxFrameSize bounds any single frame's payload, guarding against a
// malicious or malformed length prefix forcing an unbounded allocation.
// Handshake frames have their own much tighter bound
// (MinHandshakeFrameSize..MaxHandshakeFrameSize below); general mesh traffic (content responses, bundles in
// transit) needs more room, so the wire-level cap is generous while
// individual message kinds can enforce their own tighter limits.
const MaxFrameSize = 16 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length prefix followed by
// payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return meshlink.New(meshlink.KindProtocol, fmt.Sprintf("frame too large: %d bytes", len(payload)))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "write frame payload", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read frame header", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, meshlink.New(meshlink.KindProtocol, fmt.Sprintf("frame too large: %d bytes", length))
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read frame payload", err)
	}
	return payload, nil
}

// WriteMessage encodes and frames msg onto w.
func WriteMessage(w io.Writer, msg *Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame from r and decodes it as a Message.
func ReadMessage(r io.Reader) (*Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// MinHandshakeFrameSize and MaxHandshakeFrameSize bound a handshake
// frame's length prefix specifically — tighter than MaxFrameSize, since
// a Handshake/HandshakeAck payload is a small fixed-shape JSON document
// (node_id, protocol_version, listen_port, an RSA public key, an
// optionally wrapped session key). A prefix outside this range can only
// mean a desynced or hostile peer, so it's rejected as a protocol error
// before a JSON decode ever runs on it.
const (
	MinHandshakeFrameSize = 10
	MaxHandshakeFrameSize = 10240
)

// WriteHandshakeFrame writes a length-prefixed handshake frame,
// rejecting payloads outside the handshake bounds.
func WriteHandshakeFrame(w io.Writer, payload []byte) error {
	if len(payload) < MinHandshakeFrameSize || len(payload) > MaxHandshakeFrameSize {
		return meshlink.New(meshlink.KindProtocol, fmt.Sprintf("handshake frame length out of bounds: %d bytes", len(payload)))
	}
	return WriteFrame(w, payload)
}

// ReadHandshakeFrame reads one length-prefixed frame from r, enforcing
// the handshake-specific 10-10240 byte bound on the length prefix.
func ReadHandshakeFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read handshake frame header", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < MinHandshakeFrameSize || length > MaxHandshakeFrameSize {
		return nil, meshlink.New(meshlink.KindProtocol, fmt.Sprintf("handshake frame length out of bounds: %d bytes", length))
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read handshake frame payload", err)
	}
	return payload, nil
}
