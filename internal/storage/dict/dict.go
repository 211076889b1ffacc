// Package dict implements the per-basis dictionary: a flat name to
// byte-extent store layered on the basis page table.
//
// Descriptors live in a reserved run of low logical pages, placed by
// name hash with linear probing. Entry data occupies contiguous
// virtual extents above the directory, bump-allocated from a watermark
// recomputed at open; the virtual space is vast enough that freed
// ranges are simply abandoned. Every mutation batches its data pages
// and directory update into a single page-table transaction.
package dict

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/twmb/murmur3"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/pagetable"
)

// Dict is the open dictionary of one mounted basis.
type Dict struct {
	table  *pagetable.Table
	logger *slog.Logger

	pageData     int // payload bytes per logical page
	slotsPerPage int
	totalSlots   int

	mu       sync.Mutex
	entries  map[string]placed
	occupied map[int]bool
	allocTop uint64 // next unreserved logical page
}

type placed struct {
	slot int
	d    desc
}

// Open scans the directory region of a mounted basis and returns its
// dictionary.
func Open(table *pagetable.Table, logger *slog.Logger) (*Dict, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dict{
		table:    table,
		logger:   logger.With("component", "dict", "basis", table.Name()),
		pageData: table.PagePayload(),
		entries:  map[string]placed{},
		occupied: map[int]bool{},
		allocTop: DirPages,
	}
	d.slotsPerPage = d.pageData / DescSize
	d.totalSlots = DirPages * d.slotsPerPage

	for p := uint64(0); p < DirPages; p++ {
		page, err := table.ReadData(domain.VirtAddr(p))
		if err != nil {
			if errors.Is(err, domain.ErrPageNotMapped) {
				continue // never-written directory page, all slots empty
			}
			return nil, err
		}
		for s := 0; s < d.slotsPerPage; s++ {
			e := decodeDesc(page, s*DescSize)
			if !e.valid() {
				continue
			}
			slot := int(p)*d.slotsPerPage + s
			d.entries[e.Name] = placed{slot: slot, d: e}
			d.occupied[slot] = true
			if top := e.VStart + e.VReserved; top > d.allocTop {
				d.allocTop = top
			}
		}
	}
	return d, nil
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// List returns all entry names, sorted.
func (d *Dict) List() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.entries))
	for name := range d.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Size returns the payload length of an entry.
func (d *Dict) Size(name string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.entries[name]
	if !ok {
		return 0, domain.ErrNameNotFound.WithDetails(name)
	}
	return p.d.VLen, nil
}

func checkName(name string) error {
	if name == "" {
		return domain.ErrInvalidArgument.WithDetails("empty entry name")
	}
	if len(name) > domain.MaxEntryName {
		return domain.ErrNameTooLong.WithDetails(fmt.Sprintf("%d bytes", len(name)))
	}
	return nil
}

// Create stores a new entry; an existing name fails with ErrNameExists.
func (d *Dict) Create(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; ok {
		return domain.ErrNameExists.WithDetails(name)
	}
	return d.insert(name, data)
}

// Put stores an entry, replacing any existing contents.
func (d *Dict) Put(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; ok {
		return d.replace(name, data)
	}
	return d.insert(name, data)
}

// Read copies up to len(out) bytes of an entry starting at off,
// truncated at the entry length. It returns the byte count.
func (d *Dict) Read(name string, off uint64, out []byte) (int, error) {
	d.mu.Lock()
	p, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return 0, domain.ErrNameNotFound.WithDetails(name)
	}
	if off >= p.d.VLen {
		return 0, nil
	}
	n := uint64(len(out))
	if off+n > p.d.VLen {
		n = p.d.VLen - off
	}

	read := uint64(0)
	for read < n {
		pos := off + read
		page := pos / uint64(d.pageData)
		inPage := pos % uint64(d.pageData)
		buf, err := d.table.ReadData(domain.VirtAddr(p.d.VStart + page))
		if err != nil {
			return int(read), err
		}
		read += uint64(copy(out[read:n], buf[inPage:]))
	}
	return int(n), nil
}

// ReadAll returns the full contents of an entry.
func (d *Dict) ReadAll(name string) ([]byte, error) {
	d.mu.Lock()
	p, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return nil, domain.ErrNameNotFound.WithDetails(name)
	}
	out := make([]byte, p.d.VLen)
	_, err := d.Read(name, 0, out)
	return out, err
}

// Append extends an entry in place when its reserved extent allows,
// relocating it otherwise.
func (d *Dict) Append(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.entries[name]
	if !ok {
		return domain.ErrNameNotFound.WithDetails(name)
	}
	if len(data) == 0 {
		return nil
	}

	newLen := p.d.VLen + uint64(len(data))
	newPages := pagesFor(newLen, d.pageData)
	if newPages > p.d.VReserved {
		// Outgrown the reserved extent: rewrite whole.
		full := make([]byte, newLen)
		if _, err := d.readLocked(p, 0, full[:p.d.VLen]); err != nil {
			return err
		}
		copy(full[p.d.VLen:], data)
		return d.replace(name, full)
	}

	x := d.table.Begin()
	pos := p.d.VLen
	remaining := data
	for len(remaining) > 0 {
		page := pos / uint64(d.pageData)
		inPage := int(pos % uint64(d.pageData))

		var buf []byte
		if inPage != 0 {
			cur, err := x.Read(domain.VirtAddr(p.d.VStart + page))
			if err != nil {
				x.Abort()
				return err
			}
			buf = cur
		} else {
			buf = make([]byte, d.pageData)
		}
		n := copy(buf[inPage:], remaining)
		if err := x.Write(domain.VirtAddr(p.d.VStart+page), buf); err != nil {
			x.Abort()
			return err
		}
		remaining = remaining[n:]
		pos += uint64(n)
	}

	nd := p.d
	nd.VLen = newLen
	nd.Age++
	if err := d.writeDesc(x, p.slot, &nd); err != nil {
		x.Abort()
		return err
	}
	if err := x.Commit(); err != nil {
		return err
	}
	d.entries[name] = placed{slot: p.slot, d: nd}
	return nil
}

// Delete removes an entry, releasing its extent pages for filler
// renewal.
func (d *Dict) Delete(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.entries[name]
	if !ok {
		return domain.ErrNameNotFound.WithDetails(name)
	}

	x := d.table.Begin()
	if err := d.freeExtent(x, p.d); err != nil {
		x.Abort()
		return err
	}
	if err := d.writeDesc(x, p.slot, nil); err != nil {
		x.Abort()
		return err
	}
	if err := x.Commit(); err != nil {
		return err
	}

	delete(d.entries, name)
	delete(d.occupied, p.slot)
	d.logger.Debug("entry deleted", "entry", name, "pages", pagesFor(p.d.VLen, d.pageData))
	return nil
}

// insert stores a brand-new entry. Caller holds d.mu.
func (d *Dict) insert(name string, data []byte) error {
	slot, err := d.probeSlot(name)
	if err != nil {
		return err
	}
	pages := pagesFor(uint64(len(data)), d.pageData)
	reserved := pages
	if reserved == 0 {
		reserved = 1
	}
	if d.allocTop+reserved > dictVaddrLimit {
		return domain.ErrCapacityExhausted.WithDetails("logical address space exhausted")
	}

	nd := desc{
		Name:      name,
		VStart:    d.allocTop,
		VReserved: reserved,
		VLen:      uint64(len(data)),
		Flags:     descValid,
	}

	x := d.table.Begin()
	if err := d.writeExtent(x, nd, data); err != nil {
		x.Abort()
		return err
	}
	if err := d.writeDesc(x, slot, &nd); err != nil {
		x.Abort()
		return err
	}
	if err := x.Commit(); err != nil {
		return err
	}

	d.entries[name] = placed{slot: slot, d: nd}
	d.occupied[slot] = true
	d.allocTop += reserved
	return nil
}

// replace rewrites an existing entry's contents. Caller holds d.mu.
func (d *Dict) replace(name string, data []byte) error {
	p := d.entries[name]
	oldPages := pagesFor(p.d.VLen, d.pageData)
	newPages := pagesFor(uint64(len(data)), d.pageData)

	nd := p.d
	nd.VLen = uint64(len(data))
	nd.Age++

	relocated := newPages > p.d.VReserved
	if relocated {
		if d.allocTop+newPages > dictVaddrLimit {
			return domain.ErrCapacityExhausted.WithDetails("logical address space exhausted")
		}
		nd.VStart = d.allocTop
		nd.VReserved = newPages
	}

	x := d.table.Begin()
	if relocated {
		if err := d.freeExtent(x, p.d); err != nil {
			x.Abort()
			return err
		}
	} else {
		// Shrinking in place: release the tail pages.
		for pg := newPages; pg < oldPages; pg++ {
			if err := x.Free(domain.VirtAddr(p.d.VStart + pg)); err != nil {
				x.Abort()
				return err
			}
		}
	}
	if err := d.writeExtent(x, nd, data); err != nil {
		x.Abort()
		return err
	}
	if err := d.writeDesc(x, p.slot, &nd); err != nil {
		x.Abort()
		return err
	}
	if err := x.Commit(); err != nil {
		return err
	}

	d.entries[name] = placed{slot: p.slot, d: nd}
	if relocated {
		d.allocTop += nd.VReserved
	}
	return nil
}

// writeExtent stages data into the extent described by nd, splitting
// it into zero-padded pages.
func (d *Dict) writeExtent(x *pagetable.Txn, nd desc, data []byte) error {
	pages := pagesFor(nd.VLen, d.pageData)
	for pg := uint64(0); pg < pages; pg++ {
		buf := make([]byte, d.pageData)
		copy(buf, data[pg*uint64(d.pageData):])
		if err := x.Write(domain.VirtAddr(nd.VStart+pg), buf); err != nil {
			return err
		}
	}
	return nil
}

// freeExtent stages the release of every mapped page of an extent.
func (d *Dict) freeExtent(x *pagetable.Txn, e desc) error {
	pages := pagesFor(e.VLen, d.pageData)
	for pg := uint64(0); pg < pages; pg++ {
		v := domain.VirtAddr(e.VStart + pg)
		if !x.Mapped(v) {
			continue
		}
		if err := x.Free(v); err != nil {
			return err
		}
	}
	return nil
}

// writeDesc stages a directory slot update; nil clears the slot.
func (d *Dict) writeDesc(x *pagetable.Txn, slot int, nd *desc) error {
	page := domain.VirtAddr(slot / d.slotsPerPage)
	off := (slot % d.slotsPerPage) * DescSize

	buf, err := x.Read(page)
	if err != nil {
		if !errors.Is(err, domain.ErrPageNotMapped) {
			return err
		}
		buf = make([]byte, d.pageData)
	}
	if nd != nil {
		encodeDesc(buf, off, *nd)
	} else {
		for i := off; i < off+DescSize; i++ {
			buf[i] = 0
		}
	}
	return x.Write(page, buf)
}

// probeSlot finds a free directory slot for name, starting from its
// hash position and probing linearly. Caller holds d.mu.
func (d *Dict) probeSlot(name string) (int, error) {
	start := int(murmur3.Sum32([]byte(name)) % uint32(d.totalSlots))
	for i := 0; i < d.totalSlots; i++ {
		slot := (start + i) % d.totalSlots
		if !d.occupied[slot] {
			return slot, nil
		}
	}
	return 0, domain.ErrCapacityExhausted.WithDetails("dictionary directory full")
}

// readLocked is Read without taking d.mu. Caller holds d.mu.
func (d *Dict) readLocked(p placed, off uint64, out []byte) (int, error) {
	n := uint64(len(out))
	read := uint64(0)
	for read < n {
		pos := off + read
		page := pos / uint64(d.pageData)
		inPage := pos % uint64(d.pageData)
		buf, err := d.table.ReadData(domain.VirtAddr(p.d.VStart + page))
		if err != nil {
			return int(read), err
		}
		read += uint64(copy(out[read:n], buf[inPage:]))
	}
	return int(n), nil
}

// dictVaddrLimit bounds extent allocation well below the table nonce
// space.
const dictVaddrLimit = uint64(1) << 40

func pagesFor(length uint64, pageData int) uint64 {
	return (length + uint64(pageData) - 1) / uint64(pageData)
}
