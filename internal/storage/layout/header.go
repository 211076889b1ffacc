package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
)

// Medium header constants. The header is the only plaintext structure
// on the medium; it reveals that the medium is a PageVault image and
// its geometry, never which bases exist.
const (
	headerMagic   = "PGVT\x00\x01"
	HeaderPage    = 0
	headerMinSize = 6 + 2 + 4 + 8 + 2 + 1 + 1 + pagecipher.SaltSize
)

// FormatVersion is the on-flash format revision.
const FormatVersion = 1

// Header is the plaintext medium header at physical page 0.
type Header struct {
	Version     uint16
	PageSize    uint32
	TotalPages  uint64
	AnchorPairs uint16
	AddrWidth   uint8 // encoded PhysAddr width in bytes (4 or 8)
	MBBB        bool  // make-before-break table updates
	KDFSalt     [pagecipher.SaltSize]byte
}

// EncodeHeader serializes the header into a full page buffer. Bytes
// past the header are left erased so a later in-place field burn (none
// today) stays possible.
func EncodeHeader(h Header, pageSize int) ([]byte, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("layout: page size %d below minimum %d", pageSize, MinPageSize)
	}
	buf := make([]byte, pageSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	w := bytes.NewBuffer(buf[:0])
	w.WriteString(headerMagic)
	binary.Write(w, binary.BigEndian, h.Version)
	binary.Write(w, binary.BigEndian, h.PageSize)
	binary.Write(w, binary.BigEndian, h.TotalPages)
	binary.Write(w, binary.BigEndian, h.AnchorPairs)
	w.WriteByte(h.AddrWidth)
	if h.MBBB {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.Write(h.KDFSalt[:])
	return buf, nil
}

// DecodeHeader parses a header page. A medium formatted under a
// different addressing width or format version is rejected rather than
// reinterpreted.
func DecodeHeader(page []byte) (Header, error) {
	var h Header
	if len(page) < headerMinSize {
		return h, domain.ErrMediaFault.WithDetails("short header page")
	}
	if string(page[:len(headerMagic)]) != headerMagic {
		return h, domain.ErrMediaFault.WithDetails("not a pagevault medium")
	}
	r := bytes.NewReader(page[len(headerMagic):])
	binary.Read(r, binary.BigEndian, &h.Version)
	binary.Read(r, binary.BigEndian, &h.PageSize)
	binary.Read(r, binary.BigEndian, &h.TotalPages)
	binary.Read(r, binary.BigEndian, &h.AnchorPairs)
	var aw, mbbb uint8
	binary.Read(r, binary.BigEndian, &aw)
	binary.Read(r, binary.BigEndian, &mbbb)
	h.AddrWidth = aw
	h.MBBB = mbbb == 1
	if _, err := r.Read(h.KDFSalt[:]); err != nil {
		return h, domain.ErrMediaFault.WithDetails("truncated header")
	}

	if h.Version != FormatVersion {
		return h, domain.ErrMediaFault.WithDetails(fmt.Sprintf("format version %d unsupported", h.Version))
	}
	if int(h.AddrWidth) != domain.PhysAddrBytes {
		return h, domain.ErrMediaFault.WithDetails(fmt.Sprintf("medium uses %d-byte addressing, build uses %d", h.AddrWidth, domain.PhysAddrBytes))
	}
	return h, nil
}
