package pagetable

import (
	"fmt"
	"sort"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
)

// Txn stages page writes and frees against one basis. A single
// transaction is open per basis at a time; Begin blocks until the
// previous one commits or aborts. Reads through the transaction see
// staged state; reads through the table see committed state only.
type Txn struct {
	t      *Table
	writes map[domain.VirtAddr][]byte
	frees  map[domain.VirtAddr]bool
	done   bool
}

// Begin opens a transaction.
func (t *Table) Begin() *Txn {
	t.txnMu.Lock()
	return &Txn{
		t:      t,
		writes: map[domain.VirtAddr][]byte{},
		frees:  map[domain.VirtAddr]bool{},
	}
}

// Write stages a full logical page. The payload must be exactly one
// page of plaintext; partial-page updates are read-modify-write at the
// caller.
func (x *Txn) Write(vaddr domain.VirtAddr, data []byte) error {
	if x.done {
		return domain.ErrTxnCommitted
	}
	if uint64(vaddr) > layout.MaxVaddr {
		return domain.ErrOutOfRange.WithDetails(fmt.Sprintf("vaddr %#x", uint64(vaddr)))
	}
	if len(data) != DataPayload(x.t.pageSize()) {
		return domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("page payload must be %d bytes, got %d", DataPayload(x.t.pageSize()), len(data)))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	x.writes[vaddr] = buf
	delete(x.frees, vaddr)
	return nil
}

// Read returns the staged or committed contents of a logical page.
func (x *Txn) Read(vaddr domain.VirtAddr) ([]byte, error) {
	if x.done {
		return nil, domain.ErrTxnCommitted
	}
	if buf, ok := x.writes[vaddr]; ok {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	if x.frees[vaddr] {
		return nil, domain.ErrPageNotMapped.WithDetails(fmt.Sprintf("vaddr %#x", uint64(vaddr)))
	}
	return x.t.ReadData(vaddr)
}

// Free stages the unmapping of a logical page. The backing physical
// page is queued for renewal after commit.
func (x *Txn) Free(vaddr domain.VirtAddr) error {
	if x.done {
		return domain.ErrTxnCommitted
	}
	if _, staged := x.writes[vaddr]; staged {
		delete(x.writes, vaddr)
		x.frees[vaddr] = true
		return nil
	}
	if _, ok := x.t.Lookup(vaddr); !ok {
		return domain.ErrPageNotMapped.WithDetails(fmt.Sprintf("vaddr %#x", uint64(vaddr)))
	}
	x.frees[vaddr] = true
	return nil
}

// Mapped reports whether vaddr resolves under the staged view.
func (x *Txn) Mapped(vaddr domain.VirtAddr) bool {
	if _, ok := x.writes[vaddr]; ok {
		return true
	}
	if x.frees[vaddr] {
		return false
	}
	_, ok := x.t.Lookup(vaddr)
	return ok
}

// Abort discards all staged state.
func (x *Txn) Abort() {
	if x.done {
		return
	}
	x.done = true
	x.writes, x.frees = nil, nil
	x.t.txnMu.Unlock()
}

// Commit applies the staged writes and frees in one crash-safe step.
//
// New data and table pages are fully programmed to freshly allocated
// physical pages, the allocator state is flushed, and only then is the
// new root sealed into the alternate anchor slot. Power loss anywhere
// before the root program leaves the previous root as the highest
// authenticating generation; power loss after it leaves the new one.
// There is no intermediate observable state.
func (x *Txn) Commit() error {
	if x.done {
		return domain.ErrTxnCommitted
	}
	t := x.t

	if len(x.writes) == 0 && len(x.frees) == 0 {
		x.Abort()
		return nil
	}
	start := time.Now()

	// Staged view of the table.
	newEntries := make(map[domain.VirtAddr]layout.PTE, len(t.entries)+len(x.writes))
	t.mu.RLock()
	for v, e := range t.entries {
		newEntries[v] = e
	}
	oldRoot := t.root
	t.mu.RUnlock()
	replaced := make([]domain.PhysAddr, 0, len(x.writes)+len(x.frees))
	for v := range x.frees {
		if e, ok := newEntries[v]; ok {
			replaced = append(replaced, e.Phys)
			delete(newEntries, v)
		}
	}
	for v := range x.writes {
		if e, ok := newEntries[v]; ok {
			replaced = append(replaced, e.Phys)
		}
	}
	finalCount := len(newEntries) - countStagedOverlap(newEntries, x.writes) + len(x.writes)
	if finalCount > layout.MaxEntries(t.pageSize()) {
		x.Abort()
		return domain.ErrCapacityExhausted.WithDetails("basis table is full")
	}
	perPage := layout.PTEsPerPage(t.pageSize())
	tablePages := (finalCount + perPage - 1) / perPage

	// Reserve generations for every page this commit seals. May itself
	// advance the root to raise the persisted ceiling.
	firstGen, err := t.takeGens(len(x.writes) + tablePages)
	if err != nil {
		x.Abort()
		return err
	}

	phys, err := t.cfg.Free.Allocate(len(x.writes) + tablePages)
	if err != nil {
		x.Abort()
		return err
	}
	// On mid-commit failure, pages already programmed hold live
	// ciphertext and must pass through renewal; only the untouched tail
	// may re-enter the pool directly.
	programmed := 0
	fail := func(err error) error {
		if programmed > 0 {
			t.cfg.Free.Free(phys[:programmed])
		}
		t.cfg.Free.Release(phys[programmed:])
		x.Abort()
		return err
	}

	// Data pages, in sorted vaddr order so generation assignment is
	// deterministic.
	vaddrs := make([]domain.VirtAddr, 0, len(x.writes))
	for v := range x.writes {
		vaddrs = append(vaddrs, v)
	}
	sort.Slice(vaddrs, func(i, j int) bool { return vaddrs[i] < vaddrs[j] })

	gen := firstGen
	for i, v := range vaddrs {
		ct, err := t.sealPage(gen, uint64(v), x.writes[v], layout.AADData)
		if err != nil {
			return fail(err)
		}
		if err := t.writeSealed(phys[i], ct); err != nil {
			return fail(err)
		}
		programmed++
		newEntries[v] = layout.PTE{Vaddr: v, Phys: phys[i], Gen: gen, Flags: layout.PTEValid}
		gen++
	}

	// Table extent.
	all := make([]layout.PTE, 0, len(newEntries))
	for _, e := range newEntries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Vaddr < all[j].Vaddr })

	tableAddrs := phys[len(vaddrs):]
	refs := make([]layout.TableRef, tablePages)
	for i := 0; i < tablePages; i++ {
		payload := make([]byte, layout.PagePayload(t.pageSize()))
		lo := i * perPage
		hi := lo + perPage
		if hi > len(all) {
			hi = len(all)
		}
		for j, e := range all[lo:hi] {
			layout.EncodePTE(payload, j*layout.PTESize, e)
		}
		if err := t.cfg.Entropy.Fill(payload[(hi-lo)*layout.PTESize:]); err != nil {
			return fail(domain.ErrMediaFault.WithCause(err))
		}
		ct, err := t.sealPage(gen, layout.TableNonceBase|uint64(i), payload, layout.AADTable)
		if err != nil {
			return fail(err)
		}
		if err := t.writeSealed(tableAddrs[i], ct); err != nil {
			return fail(err)
		}
		programmed++
		refs[i] = layout.TableRef{Addr: tableAddrs[i], Gen: gen}
		gen++
	}

	// Allocator state must be durable before the root names the new
	// pages, or a crash could hand them out twice.
	if err := t.cfg.Free.Flush(); err != nil {
		return fail(err)
	}

	// takeGens may have advanced the committed root to persist a raised
	// ceiling; increment from the current generation, not the snapshot.
	newRoot := t.root
	newRoot.Generation++
	newRoot.EntryCount = uint32(len(all))
	newRoot.TablePages = refs
	slot, err := t.writeRoot(newRoot)
	if err != nil {
		return fail(err)
	}

	// Committed. Superseded pages go to the renewal queue.
	retired := replaced
	for _, ref := range oldRoot.TablePages {
		retired = append(retired, ref.Addr)
	}
	t.cfg.Free.Free(retired)

	t.mu.Lock()
	t.slot = slot
	t.root = newRoot
	t.entries = newEntries
	t.mu.Unlock()

	t.metrics.IncTxnCommits()
	t.metrics.ObserveTxnDuration(time.Since(start).Seconds())
	t.logger.Debug("transaction committed",
		"basis", newRoot.Name,
		"generation", newRoot.Generation,
		"writes", len(vaddrs),
		"frees", len(x.frees),
		"table_pages", tablePages)

	x.done = true
	x.writes, x.frees = nil, nil
	t.txnMu.Unlock()
	return nil
}

// countStagedOverlap counts staged writes whose vaddr already maps.
func countStagedOverlap(entries map[domain.VirtAddr]layout.PTE, writes map[domain.VirtAddr][]byte) int {
	n := 0
	for v := range writes {
		if _, ok := entries[v]; ok {
			n++
		}
	}
	return n
}
