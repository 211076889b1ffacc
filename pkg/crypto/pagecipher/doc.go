// Package pagecipher provides the authenticated page cipher and basis
// key derivation for PageVault.
//
// Unlike a general-purpose AEAD wrapper, the page cipher takes an
// explicit nonce derived from the page's write generation and logical
// address, so that no (key, nonce) pair is ever reused while keeping
// ciphertext pages free of any recognizable structure. Key derivation
// is deliberately slow (Argon2id) and mixed with a device-bound secret
// through HKDF, so basis keys cannot be enumerated from passwords alone
// or without the physical device.
package pagecipher
