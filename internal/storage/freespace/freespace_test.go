package freespace

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/storage/slotio"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

func testSetup(t *testing.T, totalPages uint64) (*flash.MemMedium, pagecipher.Cipher, layout.Regions) {
	t.Helper()

	medium := flash.NewMemMedium(flash.DefaultGeometry(totalPages))
	cipher, err := pagecipher.NewAESGCM(bytes.Repeat([]byte{0x77}, pagecipher.KeySize))
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	h := layout.Header{TotalPages: totalPages, AnchorPairs: 4}
	regions := layout.MediumRegions(h)

	if err := Initialize(medium, cipher, pagecipher.SystemEntropy{}, regions); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return medium, cipher, regions
}

func newManager(t *testing.T, medium flash.Medium, cipher pagecipher.Cipher, regions layout.Regions) *Manager {
	t.Helper()
	m, err := New(Config{
		Medium:    medium,
		Cipher:    cipher,
		Entropy:   pagecipher.SystemEntropy{},
		Regions:   regions,
		RenewRate: 100000, // tests should not wait on the wear limiter
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_AllocateFromDataRegion(t *testing.T) {
	medium, cipher, regions := testSetup(t, 256)
	m := newManager(t, medium, cipher, regions)

	pages, err := m.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(pages) != 10 {
		t.Fatalf("got %d pages, want 10", len(pages))
	}
	seen := map[domain.PhysAddr]bool{}
	for _, p := range pages {
		if p < regions.DataFirst || uint64(p) >= 256 {
			t.Fatalf("page %d outside data region", p)
		}
		if seen[p] {
			t.Fatalf("page %d allocated twice", p)
		}
		seen[p] = true
	}

	tracked := layout.PoolTrackedPages(medium.Geometry().PageSize, regions.DataPages)
	if got := m.FreeExact(); got != tracked-10 {
		t.Fatalf("FreeExact = %d, want %d", got, tracked-10)
	}
}

func TestManager_CapacityExhausted(t *testing.T) {
	medium, cipher, regions := testSetup(t, 64)
	m := newManager(t, medium, cipher, regions)

	tracked := layout.PoolTrackedPages(medium.Geometry().PageSize, regions.DataPages)
	if _, err := m.Allocate(int(tracked) + 1); !errors.Is(err, domain.ErrCapacityExhausted) {
		t.Fatalf("err = %v, want ErrCapacityExhausted", err)
	}

	// A failed allocation must not leak pool entries.
	if got := m.FreeExact(); got != tracked {
		t.Fatalf("FreeExact after failed alloc = %d, want %d", got, tracked)
	}
}

func TestManager_FreedPageRenewedBeforeReuse(t *testing.T) {
	medium, cipher, regions := testSetup(t, 128)
	m := newManager(t, medium, cipher, regions)

	pages, err := m.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	target := pages[0]

	// Simulate basis ciphertext on the page.
	stale := bytes.Repeat([]byte{0xCC}, medium.Geometry().PageSize)
	if err := flash.RewritePage(medium, uint64(target), stale); err != nil {
		t.Fatalf("RewritePage: %v", err)
	}

	m.Free([]domain.PhysAddr{target})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.DrainRenewals(ctx); err != nil {
		t.Fatalf("DrainRenewals: %v", err)
	}

	got, err := medium.ReadPage(uint64(target))
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if bytes.Equal(got, stale) {
		t.Fatal("freed page still holds stale ciphertext")
	}

	// The renewed page is allocatable again.
	tracked := layout.PoolTrackedPages(medium.Geometry().PageSize, regions.DataPages)
	deadline := time.Now().Add(5 * time.Second)
	for m.FreeExact() != tracked {
		if time.Now().After(deadline) {
			t.Fatalf("renewed page never returned to pool (free=%d)", m.FreeExact())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManager_PersistsAcrossReload(t *testing.T) {
	medium, cipher, regions := testSetup(t, 128)

	m := newManager(t, medium, cipher, regions)
	pages, err := m.Allocate(5)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tracked := layout.PoolTrackedPages(medium.Geometry().PageSize, regions.DataPages)
	m2 := newManager(t, medium, cipher, regions)
	if got := m2.FreeExact(); got != tracked-5 {
		t.Fatalf("FreeExact after reload = %d, want %d", got, tracked-5)
	}

	// Reload must not hand out the pages the first instance allocated.
	rest, err := m2.Allocate(int(tracked) - 5)
	if err != nil {
		t.Fatalf("Allocate rest: %v", err)
	}
	taken := map[domain.PhysAddr]bool{}
	for _, p := range pages {
		taken[p] = true
	}
	for _, p := range rest {
		if taken[p] {
			t.Fatalf("page %d double-allocated after reload", p)
		}
	}
}

func TestManager_WrongDeviceKeyFailsLoad(t *testing.T) {
	medium, _, regions := testSetup(t, 128)

	other, err := pagecipher.NewAESGCM(bytes.Repeat([]byte{0x78}, pagecipher.KeySize))
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	if _, err := New(Config{
		Medium:  medium,
		Cipher:  other,
		Entropy: pagecipher.SystemEntropy{},
		Regions: regions,
	}); !errors.Is(err, domain.ErrTableCorrupt) {
		t.Fatalf("err = %v, want ErrTableCorrupt", err)
	}
}

// The persisted pool record is readable with the device secret alone,
// so it must never amount to an allocation census: it lists a bounded
// subset of free pages and nothing about the rest of the region.
func TestManager_PersistedRecordIsBoundedSubset(t *testing.T) {
	medium, cipher, regions := testSetup(t, 256)
	m := newManager(t, medium, cipher, regions)

	allocated, err := m.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payloadLen := layout.SlotPayload(medium.Geometry().PageSize)
	var best *layout.PoolRecord
	for _, addr := range []domain.PhysAddr{regions.PoolSlotA, regions.PoolSlotB} {
		payload, err := slotio.Read(medium, cipher, addr, payloadLen, layout.AADFreePool)
		if err != nil {
			continue
		}
		rec, err := layout.DecodePool(payload)
		if err != nil {
			continue
		}
		if best == nil || rec.Generation > best.Generation {
			r := rec
			best = &r
		}
	}
	if best == nil {
		t.Fatal("no readable pool record")
	}

	if uint64(len(best.Pages)) > regions.DataPages/2 {
		t.Fatalf("record lists %d pages, more than half the data region (%d)",
			len(best.Pages), regions.DataPages)
	}
	listed := map[domain.PhysAddr]bool{}
	for _, p := range best.Pages {
		if p < regions.DataFirst || uint64(p) >= 256 {
			t.Fatalf("page %d outside data region", p)
		}
		if listed[p] {
			t.Fatalf("page %d listed twice", p)
		}
		listed[p] = true
	}
	for _, p := range allocated {
		if listed[p] {
			t.Fatalf("allocated page %d still listed as free", p)
		}
	}
}

func TestManager_EstimateIsFuzzed(t *testing.T) {
	medium, cipher, regions := testSetup(t, 1024)
	m := newManager(t, medium, cipher, regions)

	exact := m.FreeExact()
	span := regions.DataPages/16 + 1
	for i := 0; i < 32; i++ {
		est := m.Estimate()
		if est > exact+span {
			t.Fatalf("estimate %d exceeds exact+span (%d)", est, exact+span)
		}
	}
}
