package flash

import (
	"fmt"
	"sync"
)

// MemMedium simulates NOR flash in memory.
//
// It enforces program-only bit semantics and supports two kinds of fault
// injection for crash testing: a one-shot power loss that truncates a
// program at an arbitrary byte offset, and per-operation fault hooks.
type MemMedium struct {
	mu    sync.Mutex
	geo   Geometry
	cells []byte

	// programmed tracks pages written since their last erase, to catch
	// callers relying on accidental bit overlap.
	programmed []bool

	// powerLossAt is the absolute byte count, across all programs, after
	// which the next program is truncated. Negative disables.
	powerLossAt     int64
	bytesProgrammed int64

	// Fault hooks; a non-nil return aborts the operation with that error.
	readFault    func(addr uint64) error
	programFault func(addr uint64) error
}

// NewMemMedium creates a simulated medium with the given geometry.
func NewMemMedium(geo Geometry) *MemMedium {
	cells := make([]byte, geo.TotalPages*uint64(geo.PageSize))
	for i := range cells {
		cells[i] = ErasedByte
	}
	return &MemMedium{
		geo:         geo,
		cells:       cells,
		programmed:  make([]bool, geo.TotalPages),
		powerLossAt: -1,
	}
}

// DefaultGeometry is a convenient small-device layout for tests:
// 4 KiB pages on sector-erase SPI NOR, where the erase unit equals the
// page. Larger erase blocks are supported but cost read-modify-erase
// cycles on every in-place rewrite.
func DefaultGeometry(totalPages uint64) Geometry {
	return Geometry{
		PageSize:      4096,
		PagesPerBlock: 1,
		TotalPages:    totalPages,
	}
}

// Geometry reports the medium layout.
func (m *MemMedium) Geometry() Geometry {
	return m.geo
}

// ReadPage returns a copy of one page.
func (m *MemMedium) ReadPage(addr uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr >= m.geo.TotalPages {
		return nil, fmt.Errorf("%w: page %d", ErrOutOfRange, addr)
	}
	if m.readFault != nil {
		if err := m.readFault(addr); err != nil {
			return nil, err
		}
	}

	out := make([]byte, m.geo.PageSize)
	copy(out, m.pageSlice(addr))
	return out, nil
}

// ProgramPage programs one page, honoring NOR bit semantics and any
// pending injected power loss.
func (m *MemMedium) ProgramPage(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr >= m.geo.TotalPages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, addr)
	}
	if len(data) != m.geo.PageSize {
		return ErrBadLength
	}
	if m.programFault != nil {
		if err := m.programFault(addr); err != nil {
			return err
		}
	}
	if m.programmed[addr] {
		return fmt.Errorf("%w: page %d", ErrProgramConflict, addr)
	}

	cell := m.pageSlice(addr)

	// Power loss truncates the program at an arbitrary byte offset; the
	// prefix commits, the rest of the page keeps its prior state.
	if m.powerLossAt >= 0 && m.bytesProgrammed+int64(len(data)) > m.powerLossAt {
		keep := m.powerLossAt - m.bytesProgrammed
		if keep < 0 {
			keep = 0
		}
		for i := int64(0); i < keep; i++ {
			cell[i] &= data[i]
		}
		m.bytesProgrammed += keep
		m.powerLossAt = -1
		m.programmed[addr] = true
		return ErrPowerLoss
	}

	for i, b := range data {
		cell[i] &= b
	}
	m.bytesProgrammed += int64(len(data))
	m.programmed[addr] = true
	return nil
}

// EraseBlock resets one erase block to 0xFF.
func (m *MemMedium) EraseBlock(block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if block >= m.geo.TotalBlocks() {
		return fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}

	first := block * uint64(m.geo.PagesPerBlock)
	for p := first; p < first+uint64(m.geo.PagesPerBlock); p++ {
		cell := m.pageSlice(p)
		for i := range cell {
			cell[i] = ErasedByte
		}
		m.programmed[p] = false
	}
	return nil
}

// FailProgramsAfter arms a one-shot power loss after n more bytes have
// been programmed. The interrupted program commits only its prefix.
func (m *MemMedium) FailProgramsAfter(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerLossAt = m.bytesProgrammed + n
}

// SetReadFault installs a read fault hook. Pass nil to clear.
func (m *MemMedium) SetReadFault(fn func(addr uint64) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFault = fn
}

// SetProgramFault installs a program fault hook. Pass nil to clear.
func (m *MemMedium) SetProgramFault(fn func(addr uint64) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programFault = fn
}

// Snapshot returns a copy of the raw cell array, for byte-level scans
// in tests.
func (m *MemMedium) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.cells))
	copy(out, m.cells)
	return out
}

func (m *MemMedium) pageSlice(addr uint64) []byte {
	off := addr * uint64(m.geo.PageSize)
	return m.cells[off : off+uint64(m.geo.PageSize)]
}
