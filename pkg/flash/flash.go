package flash

import "errors"

// Medium errors.
var (
	// ErrOutOfRange indicates a page or block address beyond the geometry.
	ErrOutOfRange = errors.New("flash: address out of range")

	// ErrBadLength indicates a program buffer that is not exactly one page.
	ErrBadLength = errors.New("flash: buffer must be exactly one page")

	// ErrProgramConflict indicates a program that would set a bit already
	// cleared by a previous program. The caller must erase first.
	ErrProgramConflict = errors.New("flash: program would set cleared bit")

	// ErrIO indicates a hardware or backing-store fault.
	ErrIO = errors.New("flash: media fault")

	// ErrPowerLoss indicates a simulated power interruption mid-program.
	// Only the injected prefix of the page was committed.
	ErrPowerLoss = errors.New("flash: simulated power loss")
)

// ErasedByte is the value of every byte in an erased page.
const ErasedByte = 0xFF

// Geometry describes the physical layout of a medium.
type Geometry struct {
	// PageSize is the program/read unit in bytes.
	PageSize int

	// PagesPerBlock is the number of pages per erase block.
	PagesPerBlock int

	// TotalPages is the page capacity of the medium.
	TotalPages uint64
}

// BlockOf returns the erase-block index containing the given page.
func (g Geometry) BlockOf(page uint64) uint64 {
	return page / uint64(g.PagesPerBlock)
}

// TotalBlocks returns the number of erase blocks.
func (g Geometry) TotalBlocks() uint64 {
	return g.TotalPages / uint64(g.PagesPerBlock)
}

// Medium is the flash driver boundary consumed by the storage engine.
//
// ProgramPage has NOR semantics: it can only clear bits relative to the
// current cell state. Callers track erase state; programming over a
// previously programmed page without an erase fails with
// ErrProgramConflict. Faults are surfaced, never retried here; retry
// policy belongs to the driver beneath this interface.
type Medium interface {
	// ReadPage returns the current contents of one page.
	ReadPage(addr uint64) ([]byte, error)

	// ProgramPage programs one full page at addr.
	ProgramPage(addr uint64, data []byte) error

	// EraseBlock resets every page of the erase block containing addr
	// (addr must be block-aligned) to the erased state.
	EraseBlock(block uint64) error

	// Geometry reports the medium layout.
	Geometry() Geometry
}
