// Package envelope seals and opens record bytes with the process-wide
// master key using XChaCha20-Poly1305.
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/medblocks/medvault/pkg/faults"
)

// KeySize is the required master key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Envelope holds the master key material. The key is loaded once at startup
// and never logged.
type Envelope struct {
	key []byte
}

// New returns an Envelope for the given 32-byte master key.
func New(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: master key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Envelope{key: k}, nil
}

// KeyFromString decodes a master key given as 64 hex characters or as
// standard base64. The decoded key must be exactly KeySize bytes.
func KeyFromString(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, fmt.Errorf("envelope: master key must decode to %d bytes of hex or base64", KeySize)
}

// Encrypt seals plaintext under the master key. A fresh random nonce is
// drawn per call and prepended to the ciphertext, so the envelope is
// non-deterministic: encrypting identical plaintext twice yields different
// ciphertext, and therefore different content ids downstream.
func (e *Envelope) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: draw nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure — wrong key,
// truncated input, tampered bytes — is reported as
// faults.ErrDecryptionFailed and must not be retried.
func (e *Envelope) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", faults.ErrDecryptionFailed)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
