package session

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

// RSAKeyBits is the modulus size used for every node's handshake keypair,
// matching meshlink_core's EncryptionManager.
const RSAKeyBits = 2048

// EncryptedMessage is the hybrid ciphertext produced by HybridEncrypt:
// the AES session key wrapped under the recipient's RSA public key,
// alongside the AES-GCM nonce and ciphertext.
type EncryptedMessage struct {
	EncryptedKey  []byte `json:"key"`
	Nonce         []byte `json:"nonce"`
	EncryptedData []byte `json:"data"`
}

// Manager holds a node's RSA keypair and performs the hybrid
// encrypt/decrypt operations used during the handshake.
type Manager struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewManager generates a fresh RSA keypair.
func NewManager() (*Manager, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "generate rsa key", err)
	}
	return &Manager{private: key, public: &key.PublicKey}, nil
}

// FromPrivateKey wraps an already-loaded RSA private key.
func FromPrivateKey(key *rsa.PrivateKey) *Manager {
	return &Manager{private: key, public: &key.PublicKey}
}

// PublicKey returns the node's RSA public key.
func (m *Manager) PublicKey() *rsa.PublicKey { return m.public }

// PrivateKeyForMarshal exposes the raw private key for identity
// persistence. Not for use in handshake logic.
func (m *Manager) PrivateKeyForMarshal() *rsa.PrivateKey { return m.private }

// PublicKeyDER returns the public key in PKIX/DER form, the canonical
// encoding node_id is derived from.
func (m *Manager) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(m.public)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindSerialization, "marshal public key", err)
	}
	return der, nil
}

// ParsePublicKeyDER parses a PKIX/DER-encoded RSA public key, as received
// from a peer during the handshake.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindProtocol, "parse public key", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, meshlink.New(meshlink.KindProtocol, "handshake public key is not RSA")
	}
	return pub, nil
}

// EncryptWithPublicKey RSA-OAEP encrypts small data (a session key) under
// peerKey. Used only for key exchange, never for payload data.
func EncryptWithPublicKey(data []byte, peerKey *rsa.PublicKey) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peerKey, data, nil)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "rsa encrypt", err)
	}
	return ct, nil
}

// DecryptWithPrivateKey reverses EncryptWithPublicKey using our key.
func (m *Manager) DecryptWithPrivateKey(ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, m.private, ciphertext, nil)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "rsa decrypt", err)
	}
	return pt, nil
}

// HybridEncrypt generates a fresh AES session key, encrypts data under it,
// and wraps the session key under peerKey.
func HybridEncrypt(data []byte, peerKey *rsa.PublicKey) (*EncryptedMessage, error) {
	aesKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "generate nonce", err)
	}
	encryptedData, err := EncryptWithNonce(data, aesKey, nonce)
	if err != nil {
		return nil, err
	}
	encryptedKey, err := EncryptWithPublicKey(aesKey, peerKey)
	if err != nil {
		return nil, err
	}
	return &EncryptedMessage{EncryptedKey: encryptedKey, Nonce: nonce, EncryptedData: encryptedData}, nil
}

// HybridDecrypt reverses HybridEncrypt using our private key.
func (m *Manager) HybridDecrypt(msg *EncryptedMessage) ([]byte, error) {
	aesKey, err := m.DecryptWithPrivateKey(msg.EncryptedKey)
	if err != nil {
		return nil, err
	}
	return DecryptWithNonce(msg.EncryptedData, aesKey, msg.Nonce)
}
