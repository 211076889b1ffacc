package layout

import (
	"encoding/binary"

	"github.com/yndnr/pagevault-go/internal/core/domain"
)

// PTE flags.
const (
	// PTEValid marks a live mapping.
	PTEValid uint32 = 1 << 0
)

// PTE maps one logical page of a basis to a physical page, together
// with the write generation its nonce was derived from. A PTE is always
// sealed and opened as part of a whole table page, never partially.
type PTE struct {
	Vaddr domain.VirtAddr
	Phys  domain.PhysAddr
	Gen   uint32
	Flags uint32
}

// EncodePTE writes one entry at buf[off:].
func EncodePTE(buf []byte, off int, e PTE) {
	binary.BigEndian.PutUint64(buf[off:], uint64(e.Vaddr))
	putPhysAddr(buf[off+8:], e.Phys)
	binary.BigEndian.PutUint32(buf[off+8+domain.PhysAddrBytes:], e.Gen)
	binary.BigEndian.PutUint32(buf[off+12+domain.PhysAddrBytes:], e.Flags)
}

// DecodePTE reads one entry from buf[off:].
func DecodePTE(buf []byte, off int) PTE {
	return PTE{
		Vaddr: domain.VirtAddr(binary.BigEndian.Uint64(buf[off:])),
		Phys:  getPhysAddr(buf[off+8:]),
		Gen:   binary.BigEndian.Uint32(buf[off+8+domain.PhysAddrBytes:]),
		Flags: binary.BigEndian.Uint32(buf[off+12+domain.PhysAddrBytes:]),
	}
}

func putPhysAddr(buf []byte, a domain.PhysAddr) {
	switch domain.PhysAddrBytes {
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(a))
	default:
		binary.BigEndian.PutUint64(buf, uint64(a))
	}
}

func getPhysAddr(buf []byte) domain.PhysAddr {
	switch domain.PhysAddrBytes {
	case 4:
		return domain.PhysAddr(binary.BigEndian.Uint32(buf))
	default:
		return domain.PhysAddr(binary.BigEndian.Uint64(buf))
	}
}
