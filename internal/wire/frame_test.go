package wire

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{Type: TypePing, Timestamp: 12345}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != TypePing || decoded.Timestamp != 12345 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{Type: TypeMeshMessage, From: "alice", MessageID: "m1", TTL: 10, Data: []byte("hello")}

	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	decoded, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if decoded.From != "alice" || decoded.MessageID != "m1" || decoded.TTL != 10 || string(decoded.Data) != "hello" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected error for oversize frame length")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10})
	buf.Write([]byte("short"))

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestHandshakeFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("x"), 100)

	if err := WriteHandshakeFrame(&buf, payload); err != nil {
		t.Fatalf("WriteHandshakeFrame failed: %v", err)
	}
	got, err := ReadHandshakeFrame(&buf)
	if err != nil {
		t.Fatalf("ReadHandshakeFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("handshake frame payload round trip mismatch")
	}
}

func TestHandshakeFrameRejectsOutOfBoundsLength(t *testing.T) {
	for _, length := range []uint32{0, 9, 10241} {
		var buf bytes.Buffer
		header := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
		buf.Write(header)
		if _, err := ReadHandshakeFrame(&buf); err == nil {
			t.Fatalf("expected error for handshake frame length %d", length)
		}
	}
}

func TestWriteHandshakeFrameRejectsOutOfBoundsPayload(t *testing.T) {
	if err := WriteHandshakeFrame(&bytes.Buffer{}, []byte("short")); err == nil {
		t.Fatal("expected error writing undersized handshake payload")
	}
	if err := WriteHandshakeFrame(&bytes.Buffer{}, bytes.Repeat([]byte("x"), 10241)); err == nil {
		t.Fatal("expected error writing oversized handshake payload")
	}
}
