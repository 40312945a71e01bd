// Package crypto implements CryptoBox: symmetric encryption of secrets at
// rest (proxy passwords today, any future credential tomorrow) keyed by a
// key-encryption-key a KeySource supplies. The default KeySource derives the
// KEK from the live remote token, so secrets become unreadable the moment
// the token is revoked; a KMS-backed KeySource is available for callers that
// need durability before any token exists.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

func newSHA256() hash.Hash { return sha256.New() }

// KeySource produces the 32-byte key-encryption-key for a given logical key
// name (e.g. a server binding's token, or a fixed KMS key ID).
type KeySource interface {
	DeriveKey(secret string) ([]byte, error)
}

// Box is CryptoBox: Encrypt/Decrypt of opaque secrets, keyed by a KeySource.
type Box struct {
	keys KeySource
}

func New(keys KeySource) *Box {
	return &Box{keys: keys}
}

// Encrypt seals plaintext under the key derived from secret, returning a
// base64-encoded blob safe to store in a text column.
func (b *Box) Encrypt(plaintext []byte, secret string) (string, error) {
	key, err := b.keys.DeriveKey(secret)
	if err != nil {
		return "", ctlerr.Wrap(ctlerr.CryptoError, "crypto.Encrypt", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ctlerr.Wrap(ctlerr.CryptoError, "crypto.Encrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ctlerr.Wrap(ctlerr.CryptoError, "crypto.Encrypt", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ctlerr.Wrap(ctlerr.CryptoError, "crypto.Encrypt", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Returns CryptoError on tampered
// ciphertext or a wrong secret.
func (b *Box) Decrypt(ciphertext string, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.CryptoError, "crypto.Decrypt", err)
	}

	key, err := b.keys.DeriveKey(secret)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.CryptoError, "crypto.Decrypt", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.CryptoError, "crypto.Decrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.CryptoError, "crypto.Decrypt", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, ctlerr.New(ctlerr.CryptoError, "crypto.Decrypt", fmt.Errorf("ciphertext too short"))
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ctlerr.New(ctlerr.CryptoError, "crypto.Decrypt", fmt.Errorf("tampering detected or wrong secret: %w", err))
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// TokenKeySource derives a per-use key from the live token via HKDF-SHA256.
// It has nothing to derive from until a token string is supplied: DeriveKey
// fails on an empty secret, so sealing a secret before any token exists is
// gated one layer up (see internal/binding's ProxyPasswordPolicy).
type TokenKeySource struct {
	// Salt distinguishes this installation's derivations from another's;
	// it is not secret, only domain-separating.
	Salt []byte
}

func NewTokenKeySource(salt []byte) *TokenKeySource {
	return &TokenKeySource{Salt: salt}
}

func (t *TokenKeySource) DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("no token available to derive key")
	}
	h := hkdf.New(newSHA256, []byte(secret), t.Salt, []byte("driveagent-cryptobox-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
