package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Box encrypts and decrypts small secrets (refresh tokens) with a
// fixed symmetric key. Ciphertexts are base64 strings carrying the
// nonce as a prefix.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from a raw 32-byte key.
func NewBox(key []byte) (*Box, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

// OpenBox loads the master key from the system keyring, generating and
// storing a fresh one on first use, and returns a Box keyed with it.
func OpenBox() (*Box, error) {
	encoded, err := Get(KeyMaster)
	if err != nil {
		key := make([]byte, chacha20poly1305.KeySize)
		if _, randErr := rand.Read(key); randErr != nil {
			return nil, fmt.Errorf("generating master key: %w", randErr)
		}
		encoded = base64.StdEncoding.EncodeToString(key)
		if setErr := Set(KeyMaster, encoded); setErr != nil {
			return nil, setErr
		}
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key has %d bytes, want %d",
			len(key), chacha20poly1305.KeySize)
	}

	return NewBox(key)
}

// Encrypt seals plaintext and returns a base64 ciphertext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Failure here is
// fatal for the read path: a credential whose refresh token cannot be
// decrypted is unusable.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}

	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}

	return string(plaintext), nil
}
