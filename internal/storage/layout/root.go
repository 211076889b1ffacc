package layout

import (
	"encoding/binary"

	"github.com/yndnr/pagevault-go/internal/core/domain"
)

// Root record constants.
const (
	rootMagic = "PVROOT\x00\x01"

	rootNameField = 112 // 1 length byte + up to 111 name bytes
	tableRefSize  = domain.PhysAddrBytes + 4

	// RootRecordSize is the fixed plaintext size of a basis root record.
	RootRecordSize = 8 + 8 + 4 + 4 + rootNameField + 4 + MaxTablePages*tableRefSize
)

// TableRef locates one encrypted table page and the write generation
// its nonce was derived from.
type TableRef struct {
	Addr domain.PhysAddr
	Gen  uint32
}

// RootRecord is the decrypted content of a basis anchor slot. It is the
// single structure advanced atomically by the make-before-break commit:
// whichever slot of the pair holds the highest authenticating
// generation is the current root.
type RootRecord struct {
	// Generation increases by one per committed table transaction.
	Generation uint64

	// EntryCount is the number of valid PTEs in the table extent.
	EntryCount uint32

	// GenCeiling is the reserved upper bound of the basis write
	// generation counter. Every sealed page so far used a generation
	// below it, so resuming the counter here can never reuse a nonce,
	// even after an interrupted transaction.
	GenCeiling uint32

	// Name is the basis name, known only after unlock.
	Name string

	// TablePages is the physical extent holding the encrypted table.
	TablePages []TableRef
}

// EncodeRoot serializes a root record into its fixed-size form.
func EncodeRoot(r RootRecord) ([]byte, error) {
	if len(r.Name) > rootNameField-1 {
		return nil, domain.ErrNameTooLong.WithDetails(r.Name[:16] + "...")
	}
	if len(r.TablePages) > MaxTablePages {
		return nil, domain.ErrInvalidArgument.WithDetails("table extent exceeds root capacity")
	}

	buf := make([]byte, RootRecordSize)
	off := copy(buf, rootMagic)
	binary.BigEndian.PutUint64(buf[off:], r.Generation)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], r.EntryCount)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], r.GenCeiling)
	off += 4
	buf[off] = byte(len(r.Name))
	copy(buf[off+1:], r.Name)
	off += rootNameField
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.TablePages)))
	off += 4
	for _, ref := range r.TablePages {
		putPhysAddr(buf[off:], ref.Addr)
		off += domain.PhysAddrBytes
		binary.BigEndian.PutUint32(buf[off:], ref.Gen)
		off += 4
	}
	return buf, nil
}

// DecodeRoot parses a decrypted root record. Decryption already
// authenticated the bytes; decode failures here indicate a format bug
// or version skew, reported as table corruption.
func DecodeRoot(buf []byte) (RootRecord, error) {
	var r RootRecord
	if len(buf) != RootRecordSize || string(buf[:8]) != rootMagic {
		return r, domain.ErrTableCorrupt.WithDetails("malformed root record")
	}
	off := 8
	r.Generation = binary.BigEndian.Uint64(buf[off:])
	off += 8
	r.EntryCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	r.GenCeiling = binary.BigEndian.Uint32(buf[off:])
	off += 4
	nameLen := int(buf[off])
	if nameLen > rootNameField-1 {
		return r, domain.ErrTableCorrupt.WithDetails("bad name length")
	}
	r.Name = string(buf[off+1 : off+1+nameLen])
	off += rootNameField
	count := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if count > MaxTablePages {
		return r, domain.ErrTableCorrupt.WithDetails("bad table page count")
	}
	r.TablePages = make([]TableRef, count)
	for i := range r.TablePages {
		r.TablePages[i].Addr = getPhysAddr(buf[off:])
		off += domain.PhysAddrBytes
		r.TablePages[i].Gen = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	return r, nil
}
