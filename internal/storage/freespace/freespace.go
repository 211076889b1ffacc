// Package freespace manages the physical free page pool of a PageVault
// medium.
//
// Free pages are indistinguishable from allocated ones at the byte
// level: both hold high-entropy contents. The manager therefore keeps
// an encrypted free-pool record (sealed under a device-bound key, never
// a basis key) and maintains the invariant that a page re-enters the
// allocatable pool only after its old contents have been rewritten with
// fresh true-random filler.
//
// The record lists a bounded, randomized subset of free pages, never a
// global bitmap: it is readable with the device secret alone, so an
// exact census would let free-space arithmetic betray a hidden basis.
// Pages outside the enrolled subset are never handed out.
package freespace

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/storage/slotio"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// DefaultRenewRate is the default re-randomization budget in pages per
// second. It bounds background flash wear; allocation latency only
// suffers when the renewed pool runs dry.
const DefaultRenewRate = 64

// Config configures the free space manager.
type Config struct {
	Medium  flash.Medium
	Cipher  pagecipher.Cipher // device-bound pool cipher
	Entropy pagecipher.Entropy
	Regions layout.Regions

	// RenewRate limits filler rewrites, in pages per second.
	// Zero selects DefaultRenewRate.
	RenewRate int

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Manager tracks the allocation state of the data region.
type Manager struct {
	cfg     Config
	medium  flash.Medium
	cipher  pagecipher.Cipher
	entropy pagecipher.Entropy
	regions layout.Regions
	logger  *slog.Logger
	metrics *metric.Registry
	limiter *rate.Limiter

	mu sync.Mutex
	// bitmap bit i covers physical page DataFirst+i; set = free and
	// filler-renewed, clear = allocated, unknown, or pending renewal.
	bitmap  []byte
	bits    uint64
	pending []domain.PhysAddr
	poolGen uint64
	// slot is the anchor holding the current generation; flushes
	// alternate to the other one.
	slot   int
	dirty  bool
	closed bool

	renewCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a manager and loads the free-pool record from the medium.
func New(cfg Config) (*Manager, error) {
	if cfg.Medium == nil || cfg.Cipher == nil || cfg.Entropy == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("freespace: medium, cipher and entropy are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RenewRate <= 0 {
		cfg.RenewRate = DefaultRenewRate
	}

	m := &Manager{
		cfg:     cfg,
		medium:  cfg.Medium,
		cipher:  cfg.Cipher,
		entropy: cfg.Entropy,
		regions: cfg.Regions,
		logger:  cfg.Logger.With("component", "freespace"),
		metrics: cfg.Metrics,
		limiter: rate.NewLimiter(rate.Limit(cfg.RenewRate), cfg.RenewRate),
		bits:    cfg.Regions.DataPages,
		renewCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	go m.renewLoop()
	return m, nil
}

// Initialize writes a fresh free-pool record enrolling a random subset
// of the data region. Used at medium format time, after filler has
// been laid down; it assumes the data region already holds fresh
// randomness. Pages outside the subset stay filler forever, so the
// record alone never reveals how full the medium is.
func Initialize(medium flash.Medium, cipher pagecipher.Cipher, entropy pagecipher.Entropy, regions layout.Regions) error {
	pageSize := medium.Geometry().PageSize
	target := layout.PoolTrackedPages(pageSize, regions.DataPages)

	all := make([]domain.PhysAddr, regions.DataPages)
	for i := range all {
		all[i] = regions.DataFirst + domain.PhysAddr(i)
	}
	if err := shuffleAddrs(entropy, all); err != nil {
		return err
	}
	rec := layout.PoolRecord{
		Generation: 1,
		DataFirst:  regions.DataFirst,
		Pages:      all[:target],
	}
	payload, err := layout.EncodePool(rec, layout.SlotPayload(pageSize))
	if err != nil {
		return err
	}
	return slotio.Write(medium, cipher, entropy, regions.PoolSlotA, payload, layout.AADFreePool)
}

// shuffleAddrs randomizes address order so the persisted list carries
// no allocation history.
func shuffleAddrs(entropy pagecipher.Entropy, addrs []domain.PhysAddr) error {
	if len(addrs) < 2 {
		return nil
	}
	rnd := make([]byte, 8*(len(addrs)-1))
	if err := entropy.Fill(rnd); err != nil {
		return domain.ErrMediaFault.WithCause(err)
	}
	for i := len(addrs) - 1; i > 0; i-- {
		j := binary.BigEndian.Uint64(rnd[8*(i-1):]) % uint64(i+1)
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}
	return nil
}

// load reads both pool slots and adopts the highest authenticating
// generation.
func (m *Manager) load() error {
	payloadLen := layout.SlotPayload(m.medium.Geometry().PageSize)

	var best *layout.PoolRecord
	bestSlot := 0
	for slot, addr := range []domain.PhysAddr{m.regions.PoolSlotA, m.regions.PoolSlotB} {
		payload, err := slotio.Read(m.medium, m.cipher, addr, payloadLen, layout.AADFreePool)
		if err != nil {
			if errors.Is(err, pagecipher.ErrIntegrity) {
				continue // never written, or torn by power loss
			}
			return err
		}
		rec, err := layout.DecodePool(payload)
		if err != nil {
			continue
		}
		if best == nil || rec.Generation > best.Generation {
			r := rec
			best = &r
			bestSlot = slot
		}
	}
	if best == nil {
		return domain.ErrTableCorrupt.WithDetails("no valid free-pool record")
	}
	if best.DataFirst != m.regions.DataFirst {
		return domain.ErrTableCorrupt.WithDetails("free-pool record does not match geometry")
	}

	m.bitmap = make([]byte, (m.bits+7)/8)
	for _, addr := range best.Pages {
		if addr < m.regions.DataFirst || uint64(addr-m.regions.DataFirst) >= m.bits {
			return domain.ErrTableCorrupt.WithDetails("free-pool page outside data region")
		}
		layout.SetBit(m.bitmap, uint64(addr-m.regions.DataFirst), true)
	}
	m.poolGen = best.Generation
	m.slot = bestSlot
	return nil
}

// Allocate removes n renewed pages from the pool and returns them.
// The change is in-memory until Flush; callers performing a table
// commit must Flush before advancing their root so a committed page
// can never be handed out twice.
func (m *Manager) Allocate(n int) ([]domain.PhysAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, domain.ErrEngineClosed
	}

	// Start the scan at a random offset: allocation order then carries
	// no information about allocation history, and wear spreads.
	var seed [8]byte
	if err := m.entropy.Fill(seed[:]); err != nil {
		return nil, domain.ErrMediaFault.WithCause(err)
	}
	start := binary.BigEndian.Uint64(seed[:]) % m.bits

	out := make([]domain.PhysAddr, 0, n)
	for i := uint64(0); i < m.bits && len(out) < n; i++ {
		bit := (start + i) % m.bits
		if layout.BitSet(m.bitmap, bit) {
			layout.SetBit(m.bitmap, bit, false)
			out = append(out, m.regions.DataFirst+domain.PhysAddr(bit))
		}
	}
	if len(out) < n {
		// Roll back; partial allocations would leak pool entries.
		for _, addr := range out {
			layout.SetBit(m.bitmap, uint64(addr-m.regions.DataFirst), true)
		}
		return nil, domain.ErrCapacityExhausted.WithDetails(
			fmt.Sprintf("need %d pages, %d renewed pages available", n, len(out)))
	}
	m.dirty = true
	return out, nil
}

// Release returns pages to the pool without renewal, for rolling back
// an aborted transaction whose pages were never programmed.
func (m *Manager) Release(addrs []domain.PhysAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, addr := range addrs {
		layout.SetBit(m.bitmap, uint64(addr-m.regions.DataFirst), true)
	}
	m.dirty = true
}

// Free schedules pages for re-randomization. They re-enter the
// allocatable pool only after the renewer has overwritten them with
// fresh filler, so stale ciphertext can never leak into a later
// allocation by a different basis.
func (m *Manager) Free(addrs []domain.PhysAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = append(m.pending, addrs...)
	select {
	case m.renewCh <- struct{}{}:
	default:
	}
}

// Flush seals the current pool state into the alternate slot with a
// bumped generation. The previous record remains intact until the new
// program completes, so a torn flush falls back cleanly on load.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if !m.dirty {
		return nil
	}

	next := 1 - m.slot
	addr := m.regions.PoolSlotA
	if next == 1 {
		addr = m.regions.PoolSlotB
	}

	free := make([]domain.PhysAddr, 0, 64)
	for i := uint64(0); i < m.bits; i++ {
		if layout.BitSet(m.bitmap, i) {
			free = append(free, m.regions.DataFirst+domain.PhysAddr(i))
		}
	}
	if err := shuffleAddrs(m.entropy, free); err != nil {
		return err
	}
	rec := layout.PoolRecord{
		Generation: m.poolGen + 1,
		DataFirst:  m.regions.DataFirst,
		Pages:      free,
	}
	payload, err := layout.EncodePool(rec, layout.SlotPayload(m.medium.Geometry().PageSize))
	if err != nil {
		return err
	}
	if err := slotio.Write(m.medium, m.cipher, m.entropy, addr, payload, layout.AADFreePool); err != nil {
		m.metrics.IncMediaFaults()
		return err
	}
	m.poolGen++
	m.slot = next
	m.dirty = false
	m.metrics.AddPagesProgrammed(1)
	return nil
}

// Estimate returns a deliberately fuzzed count of free pages. The
// jitter keeps exact free-space arithmetic from betraying the existence
// of a hidden basis.
func (m *Manager) Estimate() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	exact := uint64(len(m.pending))
	for i := uint64(0); i < m.bits; i++ {
		if layout.BitSet(m.bitmap, i) {
			exact++
		}
	}

	span := m.bits/16 + 1
	var noise [8]byte
	if err := m.entropy.Fill(noise[:]); err != nil {
		return exact &^ 0x3F // degrade to coarse rounding
	}
	jitter := binary.BigEndian.Uint64(noise[:]) % (2 * span)
	fuzzed := exact + jitter
	if fuzzed < span {
		return 0
	}
	return fuzzed - span
}

// FreeExact reports the precise renewed-free count for internal
// bookkeeping (never exposed through the application API).
func (m *Manager) FreeExact() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint64
	for i := uint64(0); i < m.bits; i++ {
		if layout.BitSet(m.bitmap, i) {
			n++
		}
	}
	return n
}

// PendingRenewal reports the number of pages awaiting re-randomization.
func (m *Manager) PendingRenewal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// DrainRenewals blocks until the pending queue is empty or the context
// expires. Tests and unmount paths use it to reach a quiescent medium.
func (m *Manager) DrainRenewals(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if m.PendingRenewal() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.doneCh:
			return nil
		case <-tick.C:
		}
	}
}

// Close stops the renewer and flushes the pool record.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}
