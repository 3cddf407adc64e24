package peer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// MaxCachedPeers bounds the persisted peer cache, matching
// meshlink_core's peer_store.rs MAX_PEERS.
const MaxCachedPeers = 256

// CachedPeer is one entry in the on-disk dial seed list.
type CachedPeer struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// cachedPeersFile is the on-disk layout, matching peer_store.rs's
// PeersFileV1.
type cachedPeersFile struct {
	Version int          `json:"version"`
	Peers   []CachedPeer `json:"peers"`
}

// SaveCache persists up to MaxCachedPeers of the manager's connected and
// recently-known peers to path, seeding future restarts' dial queues
// without depending solely on configured bootstrap addresses.
func (m *Manager) SaveCache(path string) error {
	m.mu.RLock()
	entries := make([]CachedPeer, 0, len(m.peers))
	for _, p := range m.peers {
		if p.Address == nil {
			continue
		}
		entries = append(entries, CachedPeer{NodeID: p.NodeID, Address: p.Address.String()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })
	if len(entries) > MaxCachedPeers {
		entries = entries[:MaxCachedPeers]
	}

	data, err := json.MarshalIndent(cachedPeersFile{Version: 1, Peers: entries}, "", "  ")
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal peer cache", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "create peer cache dir", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "write peer cache", err)
	}
	return nil
}

// LoadCache reads a previously saved peer cache. A missing file is not
// an error: it just yields an empty dial seed list.
func LoadCache(path string) ([]CachedPeer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, meshlink.Wrap(meshlink.KindIO, "read peer cache", err)
	}
	var f cachedPeersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "unmarshal peer cache", err)
	}
	return f.Peers, nil
}
