// Package naming implements the local name registry: human-readable
// names mapped to node_ids, plus a user-maintained contact list layered
// on the same storage substrate. Grounded on meshlink_core's naming.rs
// (NameRegistry) and contact_store.rs (Contact), both of which the
// distilled spec collapses into a single NameRecord module.
package naming

import (
	"encoding/json"
	"time"

	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/store"
)

// Kind distinguishes a published name record from a locally-maintained
// contact list entry; both live in the same store under the same key
// space, disambiguated by this field.
type Kind string

const (
	KindName    Kind = "name"
	KindContact Kind = "contact"
)

// Record is one entry in the name registry: a name, the node_id it
// resolves to, and when it was last updated.
type Record struct {
	Name      string `json:"name"`
	NodeID    string `json:"node_id"`
	Kind      Kind   `json:"kind"`
	UpdatedAt int64  `json:"updated_at"`
}

const keyPrefix = "name:"

// Registry resolves names to node_ids atop a durable KV substrate.
type Registry struct {
	store store.Store
}

// New wraps a durable Store as a name registry.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// Publish records that name resolves to nodeID.
func (r *Registry) Publish(name, nodeID string) error {
	return r.put(name, nodeID, KindName)
}

// AddContact records a local contact book entry, independent of any
// publish/resolve flow a peer on the mesh might perform.
func (r *Registry) AddContact(nickname, nodeID string) error {
	return r.put(nickname, nodeID, KindContact)
}

func recordKey(kind Kind, name string) string {
	return keyPrefix + string(kind) + ":" + name
}

func (r *Registry) put(name, nodeID string, kind Kind) error {
	rec := Record{Name: name, NodeID: nodeID, Kind: kind, UpdatedAt: time.Now().Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal name record", err)
	}
	if err := r.store.Put(recordKey(kind, name), data); err != nil {
		return meshlink.Wrap(meshlink.KindStorage, "put name record", err)
	}
	return nil
}

// Resolve looks up a published name, returning its node_id. Contact-list
// entries are not resolved by this lookup; use List(KindContact) for those.
func (r *Registry) Resolve(name string) (*Record, bool, error) {
	data, ok, err := r.store.Get(recordKey(KindName, name))
	if err != nil {
		return nil, false, meshlink.Wrap(meshlink.KindStorage, "get name record", err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, meshlink.Wrap(meshlink.KindSerialization, "unmarshal name record", err)
	}
	return &rec, true, nil
}

// List returns every record of the given kind.
func (r *Registry) List(kind Kind) ([]*Record, error) {
	entries, err := r.store.PrefixScan(keyPrefix)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindStorage, "prefix scan name records", err)
	}
	var out []*Record
	for _, data := range entries {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Kind == kind {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// Remove deletes a record of the given kind.
func (r *Registry) Remove(kind Kind, name string) error {
	if err := r.store.Delete(recordKey(kind, name)); err != nil {
		return meshlink.Wrap(meshlink.KindStorage, "delete name record", err)
	}
	return nil
}
