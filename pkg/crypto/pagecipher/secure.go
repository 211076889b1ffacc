package pagecipher

import "runtime"

// SecureBytes holds key material that must be wiped when released.
// It is the only container basis keys live in while mounted.
type SecureBytes struct {
	buf []byte
}

// NewSecureBytes wraps buf. The wrapper takes ownership; callers must
// not retain their own reference.
func NewSecureBytes(buf []byte) *SecureBytes {
	return &SecureBytes{buf: buf}
}

// Bytes exposes the underlying key material for the minimum working set.
// The slice aliases the container; do not copy it elsewhere.
func (s *SecureBytes) Bytes() []byte {
	return s.buf
}

// Len returns the key length, or 0 after Zero.
func (s *SecureBytes) Len() int {
	return len(s.buf)
}

// Zero overwrites the contents and drops the reference.
// Defense-in-depth only; Go gives no hard guarantee against copies made
// by the runtime.
func (s *SecureBytes) Zero() {
	Wipe(s.buf)
	s.buf = nil
}

// Wipe overwrites a byte slice with zeros.
// runtime.KeepAlive prevents the loop from being optimized away.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
