// Package bundle implements the portable, time-bounded message container
// used for offline store-and-forward: export a set of inbox messages to
// a file, carry it by any out-of-band means, and import it on another
// node. Grounded on meshlink_core's bundle.rs (MessageBundle).
package bundle

import (
	"encoding/json"
	"os"
	"time"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// Version is the bundle container format version.
const Version = 1

// Entry is one message carried inside a bundle.
type Entry struct {
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Data      []byte `json:"data"`
	MessageID string `json:"message_id"`
}

// Bundle is a versioned, time-bounded collection of messages.
type Bundle struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Messages  []Entry   `json:"messages"`
}

// New creates a bundle of messages valid for ttl starting now.
func New(messages []Entry, ttl time.Duration) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		Version:   Version,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Messages:  messages,
	}
}

// Expired reports whether the bundle is past its expiry.
func (b *Bundle) Expired() bool { return time.Now().UTC().After(b.ExpiresAt) }

// Save writes the bundle as JSON to path.
func (b *Bundle) Save(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal bundle", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "write bundle", err)
	}
	return nil
}

// Load reads a bundle previously written by Save.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read bundle", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "unmarshal bundle", err)
	}
	if b.Version != Version {
		return nil, meshlink.New(meshlink.KindProtocol, "unsupported bundle version")
	}
	return &b, nil
}

// Info is a bundle's metadata without its message payloads, for quick
// inspection before a full import.
type Info struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Expired      bool      `json:"expired"`
	MessageCount int       `json:"message_count"`
}

// Inspect loads just enough of a bundle to report Info, without handing
// back the message payloads.
func Inspect(path string) (*Info, error) {
	b, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Info{
		Version:      b.Version,
		CreatedAt:    b.CreatedAt,
		ExpiresAt:    b.ExpiresAt,
		Expired:      b.Expired(),
		MessageCount: len(b.Messages),
	}, nil
}

// ImportResult reports what happened when a bundle's messages were fed
// into the local inbox. Per meshlink_core's bundle import behavior, a
// bundle delivers directly to the local inbox — it is never re-entered
// into the flood-forwarding path, so Forwarded is always zero; see
// DESIGN.md's Open Question decision.
type ImportResult struct {
	Delivered int
	Forwarded int
	Skipped   int
}
