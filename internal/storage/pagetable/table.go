package pagetable

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/freespace"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/storage/slotio"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// genReserve is the write-generation headroom persisted ahead of use.
// A crash burns at most this many generations; uint32 space allows
// ~65k such reservations over a basis lifetime.
const genReserve = 1 << 16

// Config wires a table to its medium, basis cipher, and allocator.
type Config struct {
	Medium  flash.Medium
	Cipher  pagecipher.Cipher // basis cipher
	Entropy pagecipher.Entropy
	Free    *freespace.Manager
	Regions layout.Regions
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Table is the in-memory image of one basis's page table.
type Table struct {
	cfg     Config
	medium  flash.Medium
	cipher  pagecipher.Cipher
	logger  *slog.Logger
	metrics *metric.Registry

	pair int // anchor pair owning this basis

	// txnMu serializes transactions: single writer per basis. Snapshot
	// reads take only mu and proceed against the committed state while
	// a transaction is staging.
	txnMu sync.Mutex

	mu      sync.RWMutex
	slot    int // anchor slot holding the committed root
	root    layout.RootRecord
	entries map[domain.VirtAddr]layout.PTE
	nextGen uint32
}

// DataPayload returns the plaintext byte capacity of one logical page.
func DataPayload(pageSize int) int {
	return layout.PagePayload(pageSize)
}

// rootAAD binds a root record to its anchor pair, so a record copied
// into a foreign slot fails authentication.
func rootAAD(pair int) []byte {
	aad := make([]byte, 0, len(layout.AADRoot)+4)
	aad = append(aad, layout.AADRoot...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(pair))
	return append(aad, idx[:]...)
}

// Create formats an empty basis table into the given anchor pair and
// returns it loaded. The caller has verified the pair is unoccupied.
func Create(cfg Config, pair int, name string) (*Table, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	root := layout.RootRecord{
		Generation: 1,
		EntryCount: 0,
		GenCeiling: genReserve,
		Name:       name,
	}
	payload, err := layout.EncodeRoot(root)
	if err != nil {
		return nil, err
	}
	if err := slotio.Write(cfg.Medium, cfg.Cipher, cfg.Entropy, cfg.Regions.AnchorSlot(pair, 0), payload, rootAAD(pair)); err != nil {
		return nil, err
	}

	return &Table{
		cfg:     cfg,
		medium:  cfg.Medium,
		cipher:  cfg.Cipher,
		logger:  cfg.Logger.With("component", "pagetable"),
		metrics: cfg.Metrics,
		pair:    pair,
		slot:    0,
		root:    root,
		entries: map[domain.VirtAddr]layout.PTE{},
		nextGen: root.GenCeiling,
	}, nil
}

// Probe attempts to authenticate the root record in every anchor slot
// with the supplied cipher. It always scans the full anchor region and
// returns the pair, slot, and record of the highest authenticating
// generation, or ok=false. Absent basis and wrong key are
// indistinguishable by construction: both scan everything and find
// nothing.
func Probe(medium flash.Medium, cipher pagecipher.Cipher, regions layout.Regions) (pair, slot int, root layout.RootRecord, ok bool) {
	for p := 0; p < regions.AnchorPages/2; p++ {
		aad := rootAAD(p)
		for s := 0; s < 2; s++ {
			payload, err := slotio.Read(medium, cipher, regions.AnchorSlot(p, s), layout.RootRecordSize, aad)
			if err != nil {
				continue // filler, foreign basis, or torn write
			}
			rec, err := layout.DecodeRoot(payload)
			if err != nil {
				continue
			}
			if !ok || rec.Generation > root.Generation {
				pair, slot, root, ok = p, s, rec, true
			}
		}
	}
	return pair, slot, root, ok
}

// OccupiedPairs reports which anchor pairs authenticate under any of
// the given ciphers. The basis manager uses it to pick a free pair at
// create time without learning anything about bases whose keys it does
// not hold.
func OccupiedPairs(medium flash.Medium, ciphers []pagecipher.Cipher, regions layout.Regions) map[int]bool {
	occupied := map[int]bool{}
	for _, c := range ciphers {
		if p, _, _, ok := Probe(medium, c, regions); ok {
			occupied[p] = true
		}
	}
	return occupied
}

// Load decrypts the table extent referenced by an authenticated root
// record and returns the cached table.
func Load(cfg Config, pair, slot int, root layout.RootRecord) (*Table, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Table{
		cfg:     cfg,
		medium:  cfg.Medium,
		cipher:  cfg.Cipher,
		logger:  cfg.Logger.With("component", "pagetable"),
		metrics: cfg.Metrics,
		pair:    pair,
		slot:    slot,
		root:    root,
		entries: make(map[domain.VirtAddr]layout.PTE, root.EntryCount),
		nextGen: root.GenCeiling,
	}

	perPage := layout.PTEsPerPage(t.pageSize())
	remaining := int(root.EntryCount)
	for i, ref := range root.TablePages {
		page, err := t.medium.ReadPage(uint64(ref.Addr))
		if err != nil {
			return nil, domain.ErrMediaFault.WithCause(err)
		}
		nonce := pagecipher.PageNonce(ref.Gen, layout.TableNonceBase|uint64(i))
		plain, err := t.cipher.Open(nonce, page, layout.AADTable)
		if err != nil {
			t.metrics.IncIntegrityFaults()
			return nil, domain.ErrTableCorrupt.WithDetails(
				fmt.Sprintf("table page %d failed authentication", i))
		}
		count := perPage
		if remaining < count {
			count = remaining
		}
		for j := 0; j < count; j++ {
			e := layout.DecodePTE(plain, j*layout.PTESize)
			if e.Flags&layout.PTEValid != 0 {
				t.entries[e.Vaddr] = e
			}
		}
		remaining -= count
	}
	if remaining > 0 {
		return nil, domain.ErrTableCorrupt.WithDetails("table extent shorter than entry count")
	}
	return t, nil
}

// Name returns the basis name from the committed root.
func (t *Table) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Name
}

// Generation returns the committed root generation.
func (t *Table) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Generation
}

// Pair returns the anchor pair index owning this basis.
func (t *Table) Pair() int {
	return t.pair
}

// EntryCount returns the number of live mappings.
func (t *Table) EntryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Lookup resolves a logical page against the committed table.
func (t *Table) Lookup(vaddr domain.VirtAddr) (layout.PTE, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[vaddr]
	return e, ok
}

// Vaddrs returns the sorted logical addresses of all live mappings.
func (t *Table) Vaddrs() []domain.VirtAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.VirtAddr, 0, len(t.entries))
	for v := range t.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReadData decrypts the committed contents of one logical page.
func (t *Table) ReadData(vaddr domain.VirtAddr) ([]byte, error) {
	t.mu.RLock()
	e, ok := t.entries[vaddr]
	t.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPageNotMapped.WithDetails(fmt.Sprintf("vaddr %#x", uint64(vaddr)))
	}

	page, err := t.medium.ReadPage(uint64(e.Phys))
	if err != nil {
		t.metrics.IncMediaFaults()
		return nil, domain.ErrMediaFault.WithCause(err)
	}
	nonce := pagecipher.PageNonce(e.Gen, uint64(vaddr))
	plain, err := t.cipher.Open(nonce, page, layout.AADData)
	if err != nil {
		t.metrics.IncIntegrityFaults()
		return nil, domain.ErrIntegrityFault.WithDetails(fmt.Sprintf("vaddr %#x", uint64(vaddr)))
	}
	return plain, nil
}

// PhysPages returns every physical page currently referenced by the
// committed table, including the table extent itself. The basis
// manager reports these as known-allocated so global free-space
// computation never needs to decrypt another basis.
func (t *Table) PhysPages() []domain.PhysAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.PhysAddr, 0, len(t.entries)+len(t.root.TablePages))
	for _, e := range t.entries {
		out = append(out, e.Phys)
	}
	for _, ref := range t.root.TablePages {
		out = append(out, ref.Addr)
	}
	return out
}

func (t *Table) pageSize() int {
	return t.medium.Geometry().PageSize
}

// PagePayload returns the plaintext byte capacity of one logical page
// of this table's medium.
func (t *Table) PagePayload() int {
	return DataPayload(t.pageSize())
}

// MakeBeforeBreak reports whether this build commits by alternating
// anchor slots rather than rewriting the current one in place.
func MakeBeforeBreak() bool {
	return makeBeforeBreak
}

// takeGens reserves n write generations, persisting a raised ceiling
// first whenever the reservation would cross the committed one. The
// pre-commit root write advances the generation like any other commit
// but leaves the table extent untouched.
func (t *Table) takeGens(n int) (uint32, error) {
	if n < 0 {
		return 0, domain.ErrInvalidArgument
	}
	need := uint32(n)
	if t.nextGen > ^uint32(0)-need-genReserve {
		return 0, domain.ErrCapacityExhausted.WithDetails("write generations exhausted for this basis")
	}

	if t.nextGen+need > t.root.GenCeiling {
		newRoot := t.root
		newRoot.Generation++
		newRoot.GenCeiling = t.nextGen + need + genReserve
		slot, err := t.writeRoot(newRoot)
		if err != nil {
			return 0, err
		}
		t.mu.Lock()
		t.slot = slot
		t.root = newRoot
		t.mu.Unlock()
	}

	first := t.nextGen
	t.nextGen += need
	return first, nil
}

// writeRoot seals newRoot into the alternate anchor slot (or the same
// slot when make-before-break is disabled) and returns the slot it
// landed in. The caller adopts the record into committed state.
func (t *Table) writeRoot(newRoot layout.RootRecord) (int, error) {
	target := t.slot
	if makeBeforeBreak {
		target = 1 - t.slot
	}

	payload, err := layout.EncodeRoot(newRoot)
	if err != nil {
		return 0, err
	}
	if err := slotio.Write(t.medium, t.cipher, t.cfg.Entropy, t.cfg.Regions.AnchorSlot(t.pair, target), payload, rootAAD(t.pair)); err != nil {
		t.metrics.IncMediaFaults()
		return 0, err
	}
	t.metrics.AddPagesProgrammed(1)
	return target, nil
}

// sealPage seals one payload into a full-page ciphertext.
func (t *Table) sealPage(gen uint32, logical uint64, payload, aad []byte) ([]byte, error) {
	nonce := pagecipher.PageNonce(gen, logical)
	ct, err := t.cipher.Seal(nonce, payload, aad)
	if err != nil {
		return nil, err
	}
	if len(ct) != t.pageSize() {
		return nil, domain.ErrInvalidArgument.WithDetails("sealed page size mismatch")
	}
	return ct, nil
}

// writeSealed programs a sealed page, read-back verifying the program
// before the commit may proceed.
func (t *Table) writeSealed(addr domain.PhysAddr, ct []byte) error {
	if err := flash.RewritePage(t.medium, uint64(addr), ct); err != nil {
		t.metrics.IncMediaFaults()
		return domain.ErrMediaFault.WithCause(err)
	}
	back, err := t.medium.ReadPage(uint64(addr))
	if err != nil {
		t.metrics.IncMediaFaults()
		return domain.ErrMediaFault.WithCause(err)
	}
	if !bytesEqual(back, ct) {
		t.metrics.IncMediaFaults()
		return domain.ErrMediaFault.WithDetails(fmt.Sprintf("read-back mismatch on page %d", addr))
	}
	t.metrics.AddPagesProgrammed(1)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
