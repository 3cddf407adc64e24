// Package session implements the hybrid RSA-OAEP + AES-256-GCM encryption
// used both for the handshake's session-key exchange and for all
// subsequent encrypted traffic on a connection, grounded on repram's
// internal/crypto package and meshlink_core's EncryptionManager.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/elysium-mesh/elysium/internal/meshlink"
)

const (
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM nonce size
	SaltSize  = 16
)

// GenerateKey returns a random AES-256 session key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "generate session key", err)
	}
	return key, nil
}

// DeriveKey derives a KeySize key from password and salt via PBKDF2-SHA256,
// used to protect an identity file at rest with a passphrase.
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, 100000, KeySize, sha256.New)
}

// GenerateSalt returns a fresh random salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "generate salt", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under key with a fresh random nonce, prefixing
// the nonce onto the returned ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new gcm", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "read nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt: ciphertext must be nonce-prefixed.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, meshlink.New(meshlink.KindProtocol, "ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new gcm", err)
	}
	nonce, sealed := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "gcm open", err)
	}
	return plaintext, nil
}

// EncryptWithNonce seals plaintext under key using an explicit nonce
// instead of a random one, needed when both sides of a handshake must
// agree on the nonce independently of who calls Encrypt.
func EncryptWithNonce(plaintext, key, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, meshlink.New(meshlink.KindProtocol, "nonce must be 12 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new gcm", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptWithNonce reverses EncryptWithNonce.
func DecryptWithNonce(ciphertext, key, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, meshlink.New(meshlink.KindProtocol, "nonce must be 12 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "new gcm", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, meshlink.Wrap(meshlink.KindPeer, "gcm open", err)
	}
	return plaintext, nil
}
