package flash

import (
	"fmt"
	"os"
	"sync"
)

// FileMedium is a file-backed medium for running the engine against a
// disk image. It emulates NOR program semantics so that engine behavior
// matches the hardware it is written for.
type FileMedium struct {
	mu   sync.Mutex
	geo  Geometry
	file *os.File
	sync bool
}

// OpenFileMedium opens (or creates) a disk image at path with the given
// geometry. A newly created image starts fully erased. If syncWrites is
// set, every program and erase is followed by fsync.
func OpenFileMedium(path string, geo Geometry, syncWrites bool) (*FileMedium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	size := int64(geo.TotalPages) * int64(geo.PageSize)
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if st.Size() == 0 {
		// Fresh image: fill with the erased state.
		page := make([]byte, geo.PageSize)
		for i := range page {
			page[i] = ErasedByte
		}
		for off := int64(0); off < size; off += int64(geo.PageSize) {
			if _, err := f.WriteAt(page, off); err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
	} else if st.Size() != size {
		f.Close()
		return nil, fmt.Errorf("%w: image size %d does not match geometry %d", ErrIO, st.Size(), size)
	}

	return &FileMedium{geo: geo, file: f, sync: syncWrites}, nil
}

// Geometry reports the medium layout.
func (m *FileMedium) Geometry() Geometry {
	return m.geo
}

// ReadPage returns the contents of one page.
func (m *FileMedium) ReadPage(addr uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr >= m.geo.TotalPages {
		return nil, fmt.Errorf("%w: page %d", ErrOutOfRange, addr)
	}
	buf := make([]byte, m.geo.PageSize)
	if _, err := m.file.ReadAt(buf, m.offset(addr)); err != nil {
		return nil, fmt.Errorf("%w: read page %d: %v", ErrIO, addr, err)
	}
	return buf, nil
}

// ProgramPage programs one page with NOR bit semantics: the stored value
// is the AND of the current and new contents, and a program that would
// set a cleared bit is rejected.
func (m *FileMedium) ProgramPage(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr >= m.geo.TotalPages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, addr)
	}
	if len(data) != m.geo.PageSize {
		return ErrBadLength
	}

	cur := make([]byte, m.geo.PageSize)
	if _, err := m.file.ReadAt(cur, m.offset(addr)); err != nil {
		return fmt.Errorf("%w: read page %d: %v", ErrIO, addr, err)
	}
	for i, b := range data {
		if b&^cur[i] != 0 {
			return fmt.Errorf("%w: page %d byte %d", ErrProgramConflict, addr, i)
		}
		cur[i] &= b
	}
	if _, err := m.file.WriteAt(cur, m.offset(addr)); err != nil {
		return fmt.Errorf("%w: program page %d: %v", ErrIO, addr, err)
	}
	if m.sync {
		if err := m.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %v", ErrIO, err)
		}
	}
	return nil
}

// EraseBlock resets one erase block to 0xFF.
func (m *FileMedium) EraseBlock(block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if block >= m.geo.TotalBlocks() {
		return fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}

	page := make([]byte, m.geo.PageSize)
	for i := range page {
		page[i] = ErasedByte
	}
	first := block * uint64(m.geo.PagesPerBlock)
	for p := first; p < first+uint64(m.geo.PagesPerBlock); p++ {
		if _, err := m.file.WriteAt(page, m.offset(p)); err != nil {
			return fmt.Errorf("%w: erase block %d: %v", ErrIO, block, err)
		}
	}
	if m.sync {
		if err := m.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %v", ErrIO, err)
		}
	}
	return nil
}

// Close closes the backing file.
func (m *FileMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

func (m *FileMedium) offset(addr uint64) int64 {
	return int64(addr) * int64(m.geo.PageSize)
}
