//go:build !addr32

package domain

// PhysAddr is a physical page address. The default build uses 64-bit
// addressing; the addr32 build tag selects the 32-bit form, trading
// maximum medium capacity for smaller bookkeeping structures. Media
// formatted under one width cannot be opened under the other.
type PhysAddr uint64

// PhysAddrBytes is the encoded width of a PhysAddr in on-flash records.
const PhysAddrBytes = 8
