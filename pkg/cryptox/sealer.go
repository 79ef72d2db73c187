// Package cryptox holds the small amount of cryptography the workspace client
// needs: random tokens and authenticated encryption of data at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the sealing key from a passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
	MinSaltLen   = 16
)

var (
	ErrEmptyPassphrase = errors.New("cryptox: empty passphrase")
	ErrShortSalt       = errors.New("cryptox: salt too short")
	ErrCiphertext      = errors.New("cryptox: ciphertext too short")
	ErrDecrypt         = errors.New("cryptox: decryption failed")
)

// Sealer encrypts small blobs with AES-256-GCM. Output layout is
// nonce || ciphertext || tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from passphrase and salt with Argon2id.
func NewSealer(passphrase, salt []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) < MinSaltLen {
		return nil, ErrShortSalt
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSalt returns MinSaltLen random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, MinSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptox: salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext. aad is authenticated but not encrypted; pass the
// record key so a ciphertext cannot be replayed under another key.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrCiphertext
	}

	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
