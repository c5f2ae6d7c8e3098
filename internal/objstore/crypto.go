package objstore

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 24 // XChaCha20-Poly1305
)

// DeriveKey stretches a passphrase into a master key with Argon2id. The salt
// must be stable per lake so the same passphrase always yields the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// WrapKey wraps a per-object key with the master key. Returns nonce|wrapped.
func WrapKey(master, objKey []byte) ([]byte, error) {
	if len(master) != KeySize || len(objKey) != KeySize {
		return nil, fmt.Errorf("keys must be %d bytes", KeySize)
	}
	aead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, objKey, nil)...), nil
}

// SealWithKey encrypts plaintext with objKey and nonce, binding aad (the
// object header) into the tag.
func SealWithKey(objKey, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(objKey) != KeySize || len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid key or nonce size")
	}
	aead, err := chacha20poly1305.NewX(objKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// OpenWithWrappedKey unwraps the per-object key with master and decrypts
// ciphertext. aad must be the same header bytes the object was sealed with.
func OpenWithWrappedKey(master, nonce, ciphertext, wrappedKey, aad []byte) ([]byte, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes", KeySize)
	}
	// wrappedKey = nonce (24) | sealed key (32) | tag (16)
	if len(wrappedKey) < NonceSize+KeySize+16 {
		return nil, fmt.Errorf("wrapped key too short")
	}
	wrapNonce := wrappedKey[:NonceSize]
	wrapped := wrappedKey[NonceSize:]

	wrapAead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return nil, err
	}
	objKey, err := wrapAead.Open(nil, wrapNonce, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	if len(objKey) != KeySize {
		return nil, fmt.Errorf("unwrapped key wrong size")
	}

	aead, err := chacha20poly1305.NewX(objKey)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}
