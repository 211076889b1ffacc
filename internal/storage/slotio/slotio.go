// Package slotio reads and writes sealed slot pages: single physical
// pages carrying an in-page random nonce, a fixed-size encrypted
// record, and random padding. Basis root anchors and the free-pool
// record share this shape, which makes an occupied slot byte-for-byte
// indistinguishable from filler without the slot's key.
package slotio

import (
	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// Write seals payload under cipher and programs it into the slot page
// at addr, replacing whatever the page held. The page is padded to full
// size with fresh entropy so its length reveals nothing.
//
// Slot pages use random nonces rather than derived ones: slot writes
// are rare (one per commit) and carry their nonce in-page, which keeps
// the commit free of any counter that would itself need crash-safe
// persistence.
func Write(m flash.Medium, c pagecipher.Cipher, e pagecipher.Entropy, addr domain.PhysAddr, payload, aad []byte) error {
	pageSize := m.Geometry().PageSize

	nonce := make([]byte, pagecipher.NonceSize)
	if err := e.Fill(nonce); err != nil {
		return domain.ErrMediaFault.WithCause(err)
	}
	ct, err := c.Seal(nonce, payload, aad)
	if err != nil {
		return domain.ErrKeyDerivation.WithCause(err)
	}

	page := make([]byte, pageSize)
	off := copy(page, nonce)
	off += copy(page[off:], ct)
	if off < pageSize {
		if err := e.Fill(page[off:]); err != nil {
			return domain.ErrMediaFault.WithCause(err)
		}
	}

	if err := flash.RewritePage(m, uint64(addr), page); err != nil {
		return domain.ErrMediaFault.WithCause(err)
	}
	return nil
}

// Read opens the slot page at addr, expecting a sealed record of
// exactly recordLen plaintext bytes. Authentication failure is returned
// as pagecipher.ErrIntegrity untouched, so callers can treat "slot
// holds filler" and "wrong key" identically.
func Read(m flash.Medium, c pagecipher.Cipher, addr domain.PhysAddr, recordLen int, aad []byte) ([]byte, error) {
	page, err := m.ReadPage(uint64(addr))
	if err != nil {
		return nil, domain.ErrMediaFault.WithCause(err)
	}

	ctLen := recordLen + c.Overhead()
	if pagecipher.NonceSize+ctLen > len(page) {
		return nil, domain.ErrInvalidArgument.WithDetails("record larger than slot page")
	}
	nonce := page[:pagecipher.NonceSize]
	ct := page[pagecipher.NonceSize : pagecipher.NonceSize+ctLen]
	return c.Open(nonce, ct, aad)
}
