package cryptox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealKeySize is the key length Seal and Open expect.
const SealKeySize = chacha20poly1305.KeySize

var ErrSealed = errors.New("cryptox: sealed data is invalid or was tampered with")

// sealSalt domain-separates derived sealing keys from anything else derived
// from the same secret.
var sealSalt = []byte("universal-hub/token-seal/v1")

// DeriveSealKey stretches a passphrase into a SealKeySize key with Argon2id.
// The derivation is deterministic so every process sharing the passphrase
// can open values written by the others.
func DeriveSealKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), sealSalt, 1, 64*1024, 4, SealKeySize)
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The output layout is
// nonce || ciphertext || tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: seal: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: seal nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealed
	}

	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrSealed
	}
	return pt, nil
}
