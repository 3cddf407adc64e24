// Package content implements the content-fetch protocol: a
// request/response exchange overlaid on the router's flood substrate,
// backed by a durable key/value content store. Grounded on
// meshlink_core's node.rs content-fetch call sites and content_store.rs
// (whose sled-backed shape, not its engine, grounds our store.Store
// usage), with the pending-waiter pattern adapted from repram's
// internal/cluster WriteOperation quorum-confirmation channels.
package content

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/store"
)

// DefaultFetchTTL bounds how many hops a content request/response may
// propagate, matching spec.md's fixed ttl=8 for content fetch.
const DefaultFetchTTL uint8 = 8

const keyPrefix = "content:"

// Store wraps a durable KV substrate with the content-addressed
// operations the fetch protocol and profile publish/fetch layer use.
type Store struct {
	kv store.Store
}

// NewStore wraps a durable Store as a content store.
func NewStore(kv store.Store) *Store {
	return &Store{kv: kv}
}

// Put stores a content blob under key.
func (s *Store) Put(key string, value []byte) error {
	if err := s.kv.Put(keyPrefix+key, value); err != nil {
		return meshlink.Wrap(meshlink.KindStorage, "put content", err)
	}
	return nil
}

// Get retrieves a content blob, reporting whether it was found locally.
func (s *Store) Get(key string) ([]byte, bool, error) {
	data, ok, err := s.kv.Get(keyPrefix + key)
	if err != nil {
		return nil, false, meshlink.Wrap(meshlink.KindStorage, "get content", err)
	}
	return data, ok, nil
}

// Response is what a fetch resolves to: the content or a not-found
// answer as sent back by a directly connected peer, or a not-found
// result after the TTL expires without an answer. A node that forwards a
// request does not relay the reply back, so replies from peers further
// away never reach the requester.
type Response struct {
	Found bool
	Data  []byte
}

// pendingRequest is a single in-flight fetch awaiting exactly one
// response.
type pendingRequest struct {
	ch chan Response
}

// Waiters tracks in-flight content-fetch requests keyed by
// request_id, resolving each with exactly one response.
type Waiters struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewWaiters creates an empty waiter table.
func NewWaiters() *Waiters {
	return &Waiters{pending: make(map[string]*pendingRequest)}
}

// NewRequestID generates a fresh request_id for a content fetch.
func NewRequestID() string { return uuid.NewString() }

// Register creates a new pending request and returns its id and the
// channel the caller should wait on.
func (w *Waiters) Register() (string, <-chan Response) {
	id := NewRequestID()
	ch := make(chan Response, 1)
	w.mu.Lock()
	w.pending[id] = &pendingRequest{ch: ch}
	w.mu.Unlock()
	return id, ch
}

// Resolve delivers resp to the waiter for requestID, if one is still
// pending. Safe to call more than once; only the first resolution is
// delivered.
func (w *Waiters) Resolve(requestID string, resp Response) bool {
	w.mu.Lock()
	p, ok := w.pending[requestID]
	if ok {
		delete(w.pending, requestID)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- resp
	return true
}

// Cancel removes a pending request without resolving it, used when a
// caller gives up waiting (context cancellation, explicit timeout).
func (w *Waiters) Cancel(requestID string) {
	w.mu.Lock()
	delete(w.pending, requestID)
	w.mu.Unlock()
}

// Fetch waits up to timeout for requestID to resolve.
func (w *Waiters) Fetch(requestID string, ch <-chan Response, timeout time.Duration) (Response, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		w.Cancel(requestID)
		return Response{}, meshlink.New(meshlink.KindTimeout, "content fetch timed out")
	}
}

// ProfileKey returns the well-known content key a node's profile is
// published under, a naming convention over content-fetch rather than a
// new wire message (grounded on node.rs's publish_profile/fetch_profile).
func ProfileKey(nodeID string) string { return "profile:" + nodeID }

// Profile is the small self-descriptive blob a node may publish.
type Profile struct {
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
}

// PublishProfile stores a node's profile locally under its well-known
// content key, ready to be served the next time a peer fetches it.
func (s *Store) PublishProfile(nodeID string, profile Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal profile", err)
	}
	return s.Put(ProfileKey(nodeID), data)
}

// LocalProfile retrieves a locally-stored profile.
func (s *Store) LocalProfile(nodeID string) (*Profile, bool, error) {
	data, ok, err := s.Get(ProfileKey(nodeID))
	if err != nil || !ok {
		return nil, ok, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, meshlink.Wrap(meshlink.KindSerialization, "unmarshal profile", err)
	}
	return &p, true, nil
}
