package pagecipher

import "encoding/binary"

// PageNonce derives the 12-byte nonce for one page write:
// a 4-byte write generation followed by the 8-byte logical address.
//
// The generation advances monotonically on every write of the page, so
// rewriting the same logical page never repeats a nonce, and two
// distinct logical pages can never collide regardless of generation.
func PageNonce(generation uint32, logical uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(nonce[:4], generation)
	binary.BigEndian.PutUint64(nonce[4:], logical)
	return nonce
}
