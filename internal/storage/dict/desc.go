package dict

import (
	"encoding/binary"

	"github.com/yndnr/pagevault-go/internal/core/domain"
)

// Directory layout constants.
const (
	// DirPages is the number of low logical pages reserved for the
	// directory. Entry data extents start above them.
	DirPages = 16

	// descNameField is 1 length byte plus up to MaxEntryName name bytes.
	descNameField = domain.MaxEntryName + 1

	// DescSize is the fixed stride of one entry descriptor.
	// name | vstart | vreserved | vlen | flags | age
	DescSize = descNameField + 8 + 8 + 8 + 4 + 4

	descValid = 1 << 0
)

// desc is one directory slot: an entry name bound to a contiguous
// virtual extent.
type desc struct {
	Name      string
	VStart    uint64 // first logical page of the extent
	VReserved uint64 // pages reserved for the extent
	VLen      uint64 // payload length in bytes
	Flags     uint32
	Age       uint32 // rewrite count, for wear diagnostics
}

func (d desc) valid() bool {
	return d.Flags&descValid != 0
}

func encodeDesc(buf []byte, off int, d desc) {
	b := buf[off : off+DescSize]
	for i := range b {
		b[i] = 0
	}
	b[0] = byte(len(d.Name))
	copy(b[1:descNameField], d.Name)
	binary.BigEndian.PutUint64(b[descNameField:], d.VStart)
	binary.BigEndian.PutUint64(b[descNameField+8:], d.VReserved)
	binary.BigEndian.PutUint64(b[descNameField+16:], d.VLen)
	binary.BigEndian.PutUint32(b[descNameField+24:], d.Flags)
	binary.BigEndian.PutUint32(b[descNameField+28:], d.Age)
}

func decodeDesc(buf []byte, off int) desc {
	b := buf[off : off+DescSize]
	nameLen := int(b[0])
	if nameLen > domain.MaxEntryName {
		nameLen = domain.MaxEntryName
	}
	return desc{
		Name:      string(b[1 : 1+nameLen]),
		VStart:    binary.BigEndian.Uint64(b[descNameField:]),
		VReserved: binary.BigEndian.Uint64(b[descNameField+8:]),
		VLen:      binary.BigEndian.Uint64(b[descNameField+16:]),
		Flags:     binary.BigEndian.Uint32(b[descNameField+24:]),
		Age:       binary.BigEndian.Uint32(b[descNameField+28:]),
	}
}
