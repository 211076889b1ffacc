//go:build addr32

package domain

// PhysAddr is a physical page address in the 32-bit addressing mode.
type PhysAddr uint32

// PhysAddrBytes is the encoded width of a PhysAddr in on-flash records.
const PhysAddrBytes = 4
