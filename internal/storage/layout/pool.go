package layout

import (
	"encoding/binary"

	"github.com/yndnr/pagevault-go/internal/core/domain"
)

// Free-pool record constants.
const (
	poolMagic = "PVFREE\x00\x02"

	// poolRecordFixed is the fixed prefix before the page list.
	poolRecordFixed = 8 + 8 + 8 + 4

	// poolEntrySize is the on-flash width of one listed page address.
	poolEntrySize = 8
)

// PoolRecord is the decrypted free-pool record: a bounded, randomized
// subset of pages known to be free and already filler-randomized.
// Pages not listed are simply unknown; the record never carries a
// global bitmap, so its holder learns a floor on free space and
// nothing about how much of the remainder is occupied. Pages freed but
// not yet re-randomized are likewise absent.
//
// The record is sealed under a device-bound key, not a basis key: it
// must be readable with no basis mounted, and it deliberately carries
// no per-basis attribution.
type PoolRecord struct {
	Generation uint64
	DataFirst  domain.PhysAddr
	Pages      []domain.PhysAddr // randomized order
}

// EncodePool serializes a pool record into payload bytes of the given
// capacity.
func EncodePool(r PoolRecord, payload int) ([]byte, error) {
	if poolRecordFixed+len(r.Pages)*poolEntrySize > payload {
		return nil, domain.ErrInvalidArgument.WithDetails("pool page list exceeds record capacity")
	}
	buf := make([]byte, payload)
	off := copy(buf, poolMagic)
	binary.BigEndian.PutUint64(buf[off:], r.Generation)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.DataFirst))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Pages)))
	off += 4
	for _, p := range r.Pages {
		binary.BigEndian.PutUint64(buf[off:], uint64(p))
		off += poolEntrySize
	}
	return buf, nil
}

// DecodePool parses a decrypted pool record.
func DecodePool(buf []byte) (PoolRecord, error) {
	var r PoolRecord
	if len(buf) < poolRecordFixed || string(buf[:8]) != poolMagic {
		return r, domain.ErrTableCorrupt.WithDetails("malformed free-pool record")
	}
	off := 8
	r.Generation = binary.BigEndian.Uint64(buf[off:])
	off += 8
	r.DataFirst = domain.PhysAddr(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	count := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if off+count*poolEntrySize > len(buf) {
		return r, domain.ErrTableCorrupt.WithDetails("short free-pool page list")
	}
	r.Pages = make([]domain.PhysAddr, count)
	for i := range r.Pages {
		r.Pages[i] = domain.PhysAddr(binary.BigEndian.Uint64(buf[off:]))
		off += poolEntrySize
	}
	return r, nil
}

// BitSet reports bit i of a bitmap.
func BitSet(bitmap []byte, i uint64) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

// SetBit sets or clears bit i of a bitmap.
func SetBit(bitmap []byte, i uint64, v bool) {
	if v {
		bitmap[i/8] |= 1 << (i % 8)
	} else {
		bitmap[i/8] &^= 1 << (i % 8)
	}
}
