package pagecipher

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher errors.
var (
	// ErrIntegrity indicates AEAD authentication failed: either the page
	// is corrupt or the key is wrong. Callers must surface it, never
	// substitute default data.
	ErrIntegrity = errors.New("pagecipher: authentication failed")

	// ErrKeySize indicates a key that is not 32 bytes.
	ErrKeySize = errors.New("pagecipher: key must be 32 bytes")

	// ErrNonceSize indicates a nonce of the wrong width.
	ErrNonceSize = errors.New("pagecipher: bad nonce size")
)

// KeySize is the page cipher key size (256-bit).
const KeySize = 32

// NonceSize is the explicit nonce width shared by both backends.
const NonceSize = 12

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Cipher seals and opens pages under caller-supplied nonces.
//
// The caller owns nonce discipline: nonces come from PageNonce and must
// never repeat under one key. Overhead is the authentication tag size.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Seal encrypts and authenticates plaintext under the given nonce
	// and additional data.
	Seal(nonce, plaintext, additionalData []byte) ([]byte, error)

	// Open decrypts and verifies ciphertext. A failed authentication
	// returns ErrIntegrity.
	Open(nonce, ciphertext, additionalData []byte) ([]byte, error)

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// New creates a cipher with the given 32-byte key, selecting AES-GCM
// where hardware acceleration is expected and ChaCha20-Poly1305
// elsewhere.
func New(key []byte) (Cipher, error) {
	if hasAESNI() {
		return NewAESGCM(key)
	}
	return NewChaCha20(key)
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, errors.New("pagecipher: unknown cipher type: " + string(cipherType))
	}
}

// hasAESNI checks if AES hardware acceleration is available.
// On amd64 and arm64, Go's crypto/aes uses hardware acceleration.
func hasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

type baseCipher struct {
	aead cipher.AEAD
	typ  CipherType
}

// NewAESGCM creates an AES-256-GCM page cipher.
func NewAESGCM(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &baseCipher{aead: aead, typ: CipherAESGCM}, nil
}

// NewChaCha20 creates a ChaCha20-Poly1305 page cipher.
func NewChaCha20(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &baseCipher{aead: aead, typ: CipherChaCha20}, nil
}

func (c *baseCipher) Type() CipherType {
	return c.typ
}

func (c *baseCipher) Overhead() int {
	return c.aead.Overhead()
}

func (c *baseCipher) Seal(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, ErrNonceSize
	}
	return c.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

func (c *baseCipher) Open(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, ErrNonceSize
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
