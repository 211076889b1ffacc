package pagecipher

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Key derivation errors.
var (
	ErrEmptyPassword = errors.New("pagecipher: empty password")
	ErrSaltSize      = errors.New("pagecipher: salt must be 16 bytes")
)

// SaltSize is the key-derivation salt length.
const SaltSize = 16

// Argon2id parameters. These are deployment-fixed: changing them after
// media have been formatted makes existing bases unmountable.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// KeySource is the root-key/unlock boundary. It yields a device-bound
// secret that is mixed into every basis key, tying deniable storage to
// the specific hardware instance.
type KeySource interface {
	// DeviceSecret returns the device-bound secret. The caller wipes the
	// returned slice after use.
	DeviceSecret() ([]byte, error)
}

// Entropy is the random source boundary. Production filler and salts
// must come from a true random generator; deterministic pseudo-randomness
// would break the free-space deniability guarantee.
type Entropy interface {
	// Fill overwrites b with cryptographically secure random bytes.
	Fill(b []byte) error
}

// SystemEntropy reads from the operating system CSPRNG.
type SystemEntropy struct{}

// Fill implements Entropy.
func (SystemEntropy) Fill(b []byte) error {
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("pagecipher: entropy: %w", err)
	}
	return nil
}

// StaticKeySource wraps a fixed device secret, for deployments whose
// root-of-trust hands over the raw intermediate secret, and for tests.
type StaticKeySource struct {
	Secret []byte
}

// DeviceSecret implements KeySource.
func (s StaticKeySource) DeviceSecret() ([]byte, error) {
	out := make([]byte, len(s.Secret))
	copy(out, s.Secret)
	return out, nil
}

// DeriveBasisKey maps (password, medium salt, device secret) to a
// 256-bit basis key.
//
// The password is stretched with Argon2id under the medium salt, then
// mixed with the device secret through HKDF-SHA256. The Argon2 cost is
// the brute-force defense: without it an attacker could cheaply test
// candidate passwords against random-looking regions of the medium.
func DeriveBasisKey(password, salt []byte, source KeySource) (*SecureBytes, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if len(salt) != SaltSize {
		return nil, ErrSaltSize
	}

	stretched := argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, KeySize)
	defer Wipe(stretched)

	device, err := source.DeviceSecret()
	if err != nil {
		return nil, fmt.Errorf("pagecipher: device secret: %w", err)
	}
	defer Wipe(device)

	reader := hkdf.New(sha256.New, stretched, device, []byte("pagevault/basis-key/v1"))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("pagecipher: hkdf expand: %w", err)
	}
	return NewSecureBytes(key), nil
}

// DeriveSubkey derives a purpose-bound subkey from a parent key using
// HKDF, e.g. separating the free-pool record key from page data keys.
func DeriveSubkey(parent *SecureBytes, info string) (*SecureBytes, error) {
	if parent.Len() < KeySize {
		return nil, ErrKeySize
	}
	reader := hkdf.New(sha256.New, parent.Bytes(), nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("pagecipher: hkdf expand: %w", err)
	}
	return NewSecureBytes(key), nil
}
