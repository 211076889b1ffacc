package flash

import "fmt"

// RewritePage replaces the contents of one page regardless of its
// current program state.
//
// On sector-erase media (PagesPerBlock == 1) this is a plain
// erase+program. On larger erase blocks the siblings of the target page
// are read out, the block is erased, and every page is programmed back.
// Power loss during the program-back phase can lose sibling pages, so
// engines running on large-block media should confine RewritePage to
// pages whose block holds no live data; the storage layer above
// allocates with that constraint.
func RewritePage(m Medium, addr uint64, data []byte) error {
	geo := m.Geometry()
	if len(data) != geo.PageSize {
		return ErrBadLength
	}
	if addr >= geo.TotalPages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, addr)
	}

	block := geo.BlockOf(addr)
	if geo.PagesPerBlock == 1 {
		if err := m.EraseBlock(block); err != nil {
			return err
		}
		return m.ProgramPage(addr, data)
	}

	first := block * uint64(geo.PagesPerBlock)
	siblings := make([][]byte, geo.PagesPerBlock)
	for i := range siblings {
		p := first + uint64(i)
		if p == addr {
			continue
		}
		buf, err := m.ReadPage(p)
		if err != nil {
			return err
		}
		siblings[i] = buf
	}

	if err := m.EraseBlock(block); err != nil {
		return err
	}

	for i := range siblings {
		p := first + uint64(i)
		var buf []byte
		if p == addr {
			buf = data
		} else {
			buf = siblings[i]
			// Skip pages that were fully erased; programming them back
			// would only burn write endurance.
			if isErased(buf) {
				continue
			}
		}
		if err := m.ProgramPage(p, buf); err != nil {
			return err
		}
	}
	return nil
}

func isErased(buf []byte) bool {
	for _, b := range buf {
		if b != ErasedByte {
			return false
		}
	}
	return true
}
