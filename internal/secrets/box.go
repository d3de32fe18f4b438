// Package secrets seals credentials before they are written to a store or a
// shared cache.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks values produced by Box.Seal so plaintext rows written
// before encryption was configured can still be read.
const sealedPrefix = "enc:v1:"

var ErrInvalidKey = errors.New("secrets: key must be at least 32 bytes")

// Box encrypts short strings with XChaCha20-Poly1305.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the AEAD key from key material with HKDF-SHA256. The material
// may be hex, base64 or a raw passphrase of at least 32 bytes.
func NewBox(material string) (*Box, error) {
	raw := decodeKey(material)
	if len(raw) < 32 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := hkdf.New(sha256.New, raw, nil, []byte("recruitmate/secrets")).Read(key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

func decodeKey(material string) []byte {
	material = strings.TrimSpace(material)
	if b, err := hex.DecodeString(material); err == nil && len(b) >= 32 {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(material); err == nil && len(b) >= 32 {
		return b
	}
	return []byte(material)
}

// Seal encrypts plaintext. Empty input stays empty.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := b.SealBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix are
// returned unchanged.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	plain, err := b.OpenBytes(data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SealBytes encrypts data, prefixing the random nonce.
func (b *Box) SealBytes(data []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(data)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, data, nil), nil
}

// OpenBytes reverses SealBytes.
func (b *Box) OpenBytes(data []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(data) < ns+b.aead.Overhead() {
		return nil, errors.New("secrets: ciphertext too short")
	}
	plain, err := b.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: open: %w", err)
	}
	return plain, nil
}

// Digest returns a stable SHA-256 hex digest, used to index tokens that must
// be looked up without decrypting every row.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
