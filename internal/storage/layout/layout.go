package layout

import (
	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
)

// Geometry-independent format constants.
const (
	// MinPageSize is the smallest page the format supports; the root
	// record must fit a single page.
	MinPageSize = 2048

	// TagSize is the AEAD authentication tag width.
	TagSize = 16

	// MaxTablePages caps the table extent one root record can describe.
	MaxTablePages = 96

	// PTESize is the fixed on-flash stride of a page table entry.
	PTESize = 24

	// DefaultAnchorPairs is the number of basis anchor slot pairs a
	// freshly formatted medium carries, bounding concurrent bases.
	DefaultAnchorPairs = 16
)

// Additional-data strings binding each record type to its role.
var (
	AADRoot     = []byte("pagevault/root/v1")
	AADTable    = []byte("pagevault/table/v1")
	AADData     = []byte("pagevault/data/v1")
	AADFreePool = []byte("pagevault/freepool/v1")
)

// TableNonceBase tags table-page nonces so they can never collide with
// data-page nonces, whose logical addresses stay below it.
const TableNonceBase uint64 = 1 << 62

// MaxVaddr is the highest logical page address usable for basis data.
const MaxVaddr = TableNonceBase - 1

// Regions describes the physical partitioning of a formatted medium.
type Regions struct {
	AnchorFirst domain.PhysAddr // first anchor slot page
	AnchorPages int             // anchor slot count (pairs * 2)
	PoolSlotA   domain.PhysAddr // free-pool record, copy A
	PoolSlotB   domain.PhysAddr // free-pool record, copy B
	DataFirst   domain.PhysAddr // first allocatable data page
	DataPages   uint64          // allocatable page count
}

// MediumRegions computes the region map for a header.
func MediumRegions(h Header) Regions {
	anchorPages := int(h.AnchorPairs) * 2
	poolA := domain.PhysAddr(1 + anchorPages)
	dataFirst := poolA + 2
	return Regions{
		AnchorFirst: 1,
		AnchorPages: anchorPages,
		PoolSlotA:   poolA,
		PoolSlotB:   poolA + 1,
		DataFirst:   dataFirst,
		DataPages:   h.TotalPages - uint64(dataFirst),
	}
}

// AnchorSlot returns the physical page of one anchor slot.
// Each pair owns two slots; commits alternate between them.
func (r Regions) AnchorSlot(pair, slot int) domain.PhysAddr {
	return r.AnchorFirst + domain.PhysAddr(pair*2+slot)
}

// PagePayload is the plaintext capacity of a sealed data or table page
// (nonce derived, not stored).
func PagePayload(pageSize int) int {
	return pageSize - TagSize
}

// SlotPayload is the plaintext capacity of a sealed anchor or pool slot
// page (random nonce stored in-page).
func SlotPayload(pageSize int) int {
	return pageSize - pagecipher.NonceSize - TagSize
}

// PTEsPerPage is the page table entry capacity of one table page.
func PTEsPerPage(pageSize int) int {
	return PagePayload(pageSize) / PTESize
}

// MaxEntries is the logical page capacity of one basis.
func MaxEntries(pageSize int) int {
	return PTEsPerPage(pageSize) * MaxTablePages
}

// PoolListCapacity is the number of page addresses one free-pool
// record can list.
func PoolListCapacity(pageSize int) int {
	return (SlotPayload(pageSize) - poolRecordFixed) / poolEntrySize
}

// PoolTrackedPages is the number of data pages a fresh medium enrolls
// in the free pool: at most half the data region, bounded by record
// capacity. Keeping the enrollment strictly below the region size is
// what makes the record a floor rather than a census.
func PoolTrackedPages(pageSize int, dataPages uint64) uint64 {
	target := dataPages / 2
	if target == 0 {
		target = 1
	}
	if limit := uint64(PoolListCapacity(pageSize)); target > limit {
		target = limit
	}
	return target
}
