package domain

// VirtAddr is a basis-local logical page number. Logical addresses are
// always 64 bits wide regardless of the physical addressing mode.
type VirtAddr uint64

// BlockAddr is an erase-block-aligned physical address.
type BlockAddr = PhysAddr

// NilPhys is the reserved invalid physical address.
const NilPhys = PhysAddr(^PhysAddr(0))

// Valid reports whether the address is not the reserved invalid value.
func (p PhysAddr) Valid() bool {
	return p != NilPhys
}
