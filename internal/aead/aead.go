// Package aead seals and opens buffers with AES-256-GCM.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/idelchi/sealr/internal/secure"
)

// ErrAuthentication is the only error Open reports for bad input. It does not
// distinguish a wrong key from tampered data.
var ErrAuthentication = errors.New("authentication failed")

// ErrKeySize is returned when the key is not KeySize bytes long.
var ErrKeySize = errors.New("invalid key size")

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the standard GCM nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// Engine is an authenticated cipher with caller-supplied nonces.
type Engine interface {
	NonceSize() int
	Overhead() int
	// Seal returns ciphertext with the tag appended.
	Seal(key *secure.Secret, nonce, plaintext, additional []byte) ([]byte, error)
	// Open returns the plaintext, or nil and ErrAuthentication.
	Open(key *secure.Secret, nonce, ciphertext, additional []byte) ([]byte, error)
}

// AESGCM implements Engine.
type AESGCM struct{}

// New returns the AES-256-GCM engine.
func New() AESGCM {
	return AESGCM{}
}

// NonceSize implements Engine.
func (AESGCM) NonceSize() int { return NonceSize }

// Overhead implements Engine.
func (AESGCM) Overhead() int { return TagSize }

// Seal implements Engine.
func (e AESGCM) Seal(key *secure.Secret, nonce, plaintext, additional []byte) ([]byte, error) {
	gcm, err := e.gcm(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}

	return gcm.Seal(nil, nonce, plaintext, additional), nil
}

// Open implements Engine.
func (e AESGCM) Open(key *secure.Secret, nonce, ciphertext, additional []byte) ([]byte, error) {
	gcm, err := e.gcm(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() || len(ciphertext) < gcm.Overhead() {
		return nil, ErrAuthentication
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrAuthentication
	}

	return plaintext, nil
}

func (AESGCM) gcm(key *secure.Secret) (cipher.AEAD, error) {
	raw := key.Bytes()
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrKeySize, KeySize, len(raw))
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return gcm, nil
}

// NewNonce returns a fresh random nonce for e.
func NewNonce(e Engine) ([]byte, error) {
	nonce := make([]byte, e.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, nil
}
