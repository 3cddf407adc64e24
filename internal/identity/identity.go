// Package identity manages a node's self-certifying identity: its RSA
// keypair and the node_id derived from it, persisted the way
// meshlink_core's identity.rs lays out its identity file, with an
// optional passphrase-protected variant layered on top using repram's
// PBKDF2 key derivation.
package identity

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"

	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/session"
)

// Identity is a node's long-lived cryptographic identity.
type Identity struct {
	NodeID  string
	Manager *session.Manager
}

// Address returns the ely:// address form of this identity's node_id.
func (id *Identity) Address() string { return "ely://" + id.NodeID }

// DeriveNodeID computes base58(SHA256(PKIX DER public key)), the
// self-certifying node_id every peer can independently recompute from a
// presented public key.
func DeriveNodeID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", meshlink.Wrap(meshlink.KindSerialization, "marshal public key", err)
	}
	sum := sha256.Sum256(der)
	return base58.Encode(sum[:]), nil
}

// New generates a fresh identity.
func New() (*Identity, error) {
	mgr, err := session.NewManager()
	if err != nil {
		return nil, err
	}
	nodeID, err := DeriveNodeID(mgr.PublicKey())
	if err != nil {
		return nil, err
	}
	return &Identity{NodeID: nodeID, Manager: mgr}, nil
}

// fileV1 is the on-disk JSON layout, analogous to identity.rs's
// IdentityFileV1.
type fileV1 struct {
	Version    int    `json:"version"`
	NodeID     string `json:"node_id"`
	PrivateKey []byte `json:"private_key"` // PKCS8 DER, optionally AES-GCM sealed
	Salt       []byte `json:"salt,omitempty"`
	Encrypted  bool   `json:"encrypted"`
}

// Save writes the identity to path as JSON with 0600 permissions. If
// passphrase is non-empty, the private key is sealed with AES-256-GCM
// under a PBKDF2-derived key, keeping golang.org/x/crypto/pbkdf2 wired to
// a real caller.
func (id *Identity) Save(path, passphrase string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(id.Manager.PrivateKeyForMarshal())
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal private key", err)
	}

	rec := fileV1{Version: 1, NodeID: id.NodeID, PrivateKey: keyDER}

	if passphrase != "" {
		salt, err := session.GenerateSalt()
		if err != nil {
			return err
		}
		derived := session.DeriveKey([]byte(passphrase), salt)
		sealed, err := session.Encrypt(keyDER, derived)
		if err != nil {
			return err
		}
		rec.PrivateKey = sealed
		rec.Salt = salt
		rec.Encrypted = true
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return meshlink.Wrap(meshlink.KindSerialization, "marshal identity file", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "create identity dir", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return meshlink.Wrap(meshlink.KindIO, "write identity file", err)
	}
	return nil
}

// Load reads an identity previously written by Save. passphrase must
// match what Save was called with if the file is encrypted.
func Load(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "read identity file", err)
	}

	var rec fileV1
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "unmarshal identity file", err)
	}

	keyDER := rec.PrivateKey
	if rec.Encrypted {
		if passphrase == "" {
			return nil, meshlink.New(meshlink.KindConfig, "identity file is passphrase-protected")
		}
		derived := session.DeriveKey([]byte(passphrase), rec.Salt)
		keyDER, err = session.Decrypt(rec.PrivateKey, derived)
		if err != nil {
			return nil, meshlink.Wrap(meshlink.KindPeer, "decrypt identity", err)
		}
	}

	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "parse private key", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, meshlink.New(meshlink.KindSerialization, "identity key is not RSA")
	}

	return &Identity{NodeID: rec.NodeID, Manager: session.FromPrivateKey(rsaKey)}, nil
}

// LoadOrCreate loads the identity at path, generating and persisting a
// new one if none exists yet.
func LoadOrCreate(path, passphrase string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path, passphrase)
	} else if !os.IsNotExist(err) {
		return nil, meshlink.Wrap(meshlink.KindIO, "stat identity file", err)
	}

	id, err := New()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path, passphrase); err != nil {
		return nil, err
	}
	return id, nil
}
