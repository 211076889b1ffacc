package pagetable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/freespace"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

type tableEnv struct {
	t       *testing.T
	medium  *flash.MemMedium
	regions layout.Regions
	fs      *freespace.Manager
	dev     pagecipher.Cipher
	basis   pagecipher.Cipher
	entropy pagecipher.Entropy
	logger  *slog.Logger
}

func testCipher(t *testing.T, fill byte) pagecipher.Cipher {
	t.Helper()
	key := make([]byte, pagecipher.KeySize)
	for i := range key {
		key[i] = fill
	}
	c, err := pagecipher.NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	return c
}

func newTableEnv(t *testing.T) *tableEnv {
	t.Helper()

	geo := flash.DefaultGeometry(256)
	medium := flash.NewMemMedium(geo)
	regions := layout.MediumRegions(layout.Header{
		PageSize:    uint32(geo.PageSize),
		TotalPages:  geo.TotalPages,
		AnchorPairs: 4,
	})

	env := &tableEnv{
		t:       t,
		medium:  medium,
		regions: regions,
		dev:     testCipher(t, 0xD7),
		basis:   testCipher(t, 0x4B),
		entropy: pagecipher.SystemEntropy{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if err := freespace.Initialize(medium, env.dev, env.entropy, regions); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	env.fs = env.openFreespace()
	t.Cleanup(func() { env.fs.Close() })
	return env
}

func (e *tableEnv) openFreespace() *freespace.Manager {
	e.t.Helper()
	fs, err := freespace.New(freespace.Config{
		Medium:  e.medium,
		Cipher:  e.dev,
		Entropy: e.entropy,
		Regions: e.regions,
		Logger:  e.logger,
	})
	if err != nil {
		e.t.Fatalf("freespace.New: %v", err)
	}
	return fs
}

func (e *tableEnv) config() Config {
	return Config{
		Medium:  e.medium,
		Cipher:  e.basis,
		Entropy: e.entropy,
		Free:    e.fs,
		Regions: e.regions,
		Logger:  e.logger,
	}
}

func (e *tableEnv) create(pair int, name string) *Table {
	e.t.Helper()
	tab, err := Create(e.config(), pair, name)
	if err != nil {
		e.t.Fatalf("Create: %v", err)
	}
	return tab
}

// reopen simulates a restart: the allocator and table caches are
// discarded and rebuilt from the medium alone.
func (e *tableEnv) reopen() *Table {
	e.t.Helper()
	e.fs.Close()
	e.fs = e.openFreespace()

	pair, slot, root, ok := Probe(e.medium, e.basis, e.regions)
	if !ok {
		e.t.Fatal("Probe found no root after reopen")
	}
	tab, err := Load(e.config(), pair, slot, root)
	if err != nil {
		e.t.Fatalf("Load: %v", err)
	}
	return tab
}

func (e *tableEnv) page(fill byte) []byte {
	buf := make([]byte, DataPayload(e.medium.Geometry().PageSize))
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func mustCommit(t *testing.T, x *Txn) {
	t.Helper()
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTable_WriteCommitRead(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "secret")

	x := tab.Begin()
	if err := x.Write(3, env.page(0xA1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := x.Write(9, env.page(0xB2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mustCommit(t, x)

	got, err := tab.ReadData(3)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(got, env.page(0xA1)) {
		t.Error("page 3 contents mismatch after commit")
	}
	if _, err := tab.ReadData(5); !errors.Is(err, domain.ErrPageNotMapped) {
		t.Errorf("unmapped read: err = %v, want ErrPageNotMapped", err)
	}
	if tab.EntryCount() != 2 {
		t.Errorf("EntryCount = %d, want 2", tab.EntryCount())
	}
}

func TestTable_ReloadFromMedium(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(1, "journal")

	x := tab.Begin()
	for v := domain.VirtAddr(0); v < 5; v++ {
		if err := x.Write(v, env.page(byte(0x10+v))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	mustCommit(t, x)

	tab = env.reopen()
	if tab.Name() != "journal" {
		t.Errorf("Name = %q, want %q", tab.Name(), "journal")
	}
	if tab.Pair() != 1 {
		t.Errorf("Pair = %d, want 1", tab.Pair())
	}
	for v := domain.VirtAddr(0); v < 5; v++ {
		got, err := tab.ReadData(v)
		if err != nil {
			t.Fatalf("ReadData(%d) after reload: %v", v, err)
		}
		if !bytes.Equal(got, env.page(byte(0x10+v))) {
			t.Errorf("page %d contents mismatch after reload", v)
		}
	}
}

func TestTable_OverwriteAndFree(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "notes")

	x := tab.Begin()
	x.Write(1, env.page(0x01))
	x.Write(2, env.page(0x02))
	mustCommit(t, x)

	exactBefore := env.fs.FreeExact()

	x = tab.Begin()
	x.Write(1, env.page(0xEE))
	if err := x.Free(2); err != nil {
		t.Fatalf("Free: %v", err)
	}
	mustCommit(t, x)

	got, err := tab.ReadData(1)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(got, env.page(0xEE)) {
		t.Error("overwrite not visible after commit")
	}
	if _, err := tab.ReadData(2); !errors.Is(err, domain.ErrPageNotMapped) {
		t.Errorf("freed read: err = %v, want ErrPageNotMapped", err)
	}

	// Superseded pages return to the pool once renewed: the second
	// commit consumed 2 fresh pages (1 data + 1 table) and retired 3
	// (old copies of both pages plus the old table page), netting one
	// page back.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.fs.DrainRenewals(ctx); err != nil {
		t.Fatalf("DrainRenewals: %v", err)
	}
	if exact := env.fs.FreeExact(); exact != exactBefore+1 {
		t.Errorf("FreeExact = %d after renewal, want %d", exact, exactBefore+1)
	}
}

func TestTable_FreeUnmappedFails(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "b")

	x := tab.Begin()
	defer x.Abort()
	if err := x.Free(7); !errors.Is(err, domain.ErrPageNotMapped) {
		t.Errorf("Free(unmapped): err = %v, want ErrPageNotMapped", err)
	}
}

func TestTxn_StagedViewAndAbort(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "b")

	x := tab.Begin()
	x.Write(4, env.page(0x44))
	mustCommit(t, x)

	x = tab.Begin()
	x.Write(4, env.page(0x55))
	x.Write(6, env.page(0x66))

	got, err := x.Read(4)
	if err != nil {
		t.Fatalf("Read staged: %v", err)
	}
	if !bytes.Equal(got, env.page(0x55)) {
		t.Error("staged read did not see pending write")
	}
	if !x.Mapped(6) {
		t.Error("Mapped(6) = false with staged write")
	}

	// Committed view stays untouched while the transaction is open.
	got, err = tab.ReadData(4)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(got, env.page(0x44)) {
		t.Error("committed read saw uncommitted data")
	}

	x.Abort()
	if _, err := tab.ReadData(6); !errors.Is(err, domain.ErrPageNotMapped) {
		t.Error("aborted write became visible")
	}
	if err := x.Commit(); !errors.Is(err, domain.ErrTxnCommitted) {
		t.Errorf("Commit after Abort: err = %v, want ErrTxnCommitted", err)
	}
}

func TestTxn_WriteValidation(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "b")

	x := tab.Begin()
	defer x.Abort()
	if err := x.Write(0, []byte("short")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("short write: err = %v, want ErrInvalidArgument", err)
	}
	if err := x.Write(domain.VirtAddr(layout.MaxVaddr+1), env.page(1)); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("out-of-range vaddr: err = %v, want ErrOutOfRange", err)
	}
}

// A settled commit programs, in order: data pages, table pages, the
// pool record, and finally the new root. Cutting power at byte offsets
// before and inside the final root program must leave the previous
// root authoritative, with all previously committed data intact and
// the medium fully operable after restart.
func TestTable_PowerLossBeforeRootAdvance(t *testing.T) {
	pageBytes := int64(4096)

	cases := []struct {
		name string
		// program bytes allowed after Begin, for a 1-write commit
		allow int64
	}{
		{"during data page", pageBytes / 2},
		{"during table page", pageBytes + pageBytes/2},
		{"during pool flush", 2*pageBytes + pageBytes/2},
		// The root record occupies the head of its slot page; a tear
		// must land inside it, not in the random padding behind it.
		{"early in root record", 3*pageBytes + 64},
		{"late in root record", 3*pageBytes + 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTableEnv(t)
			tab := env.create(0, "crash")

			x := tab.Begin()
			x.Write(0, env.page(0xC0))
			mustCommit(t, x)
			genBefore := tab.Generation()

			env.medium.FailProgramsAfter(tc.allow)
			x = tab.Begin()
			x.Write(1, env.page(0xC1))
			if err := x.Commit(); err == nil {
				t.Fatal("Commit succeeded through injected power loss")
			}

			tab = env.reopen()
			if tab.Generation() < genBefore {
				t.Errorf("Generation regressed: %d < %d", tab.Generation(), genBefore)
			}
			got, err := tab.ReadData(0)
			if err != nil {
				t.Fatalf("ReadData(0) after crash: %v", err)
			}
			if !bytes.Equal(got, env.page(0xC0)) {
				t.Error("committed page corrupted by interrupted commit")
			}
			if _, err := tab.ReadData(1); !errors.Is(err, domain.ErrPageNotMapped) {
				t.Errorf("torn write visible: err = %v, want ErrPageNotMapped", err)
			}

			// The medium stays fully writable: retry the lost write.
			x = tab.Begin()
			x.Write(1, env.page(0xC1))
			mustCommit(t, x)
			got, err = tab.ReadData(1)
			if err != nil {
				t.Fatalf("ReadData(1) after retry: %v", err)
			}
			if !bytes.Equal(got, env.page(0xC1)) {
				t.Error("retried write mismatch")
			}
		})
	}
}

// The first commit after load additionally programs a root that only
// raises the persisted generation ceiling, before any page is sealed.
// Crashing inside that program must leave the basis empty but intact.
func TestTable_PowerLossDuringCeilingReserve(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "crash")

	env.medium.FailProgramsAfter(100)
	x := tab.Begin()
	x.Write(0, env.page(0xC7))
	if err := x.Commit(); err == nil {
		t.Fatal("Commit succeeded through injected power loss")
	}

	tab = env.reopen()
	if tab.EntryCount() != 0 {
		t.Errorf("EntryCount = %d after torn reserve, want 0", tab.EntryCount())
	}

	x = tab.Begin()
	x.Write(0, env.page(0xC7))
	mustCommit(t, x)
	got, err := tab.ReadData(0)
	if err != nil {
		t.Fatalf("ReadData after retry: %v", err)
	}
	if !bytes.Equal(got, env.page(0xC7)) {
		t.Error("retried write mismatch")
	}
}

func TestTable_PowerLossAfterRootAdvance(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "crash")

	x := tab.Begin()
	x.Write(0, env.page(0xD0))
	mustCommit(t, x)

	// Let the whole second commit through, then cut power on the next
	// program (the renewal rewrite of a retired page).
	x = tab.Begin()
	x.Write(0, env.page(0xD1))
	mustCommit(t, x)
	env.medium.FailProgramsAfter(0)

	tab = env.reopen()
	got, err := tab.ReadData(0)
	if err != nil {
		t.Fatalf("ReadData after reopen: %v", err)
	}
	if !bytes.Equal(got, env.page(0xD1)) {
		t.Error("advanced root did not win after restart")
	}
}

// A commit that dies between its first and last page program leaves
// live ciphertext on the already-programmed prefix. Those pages must
// come back through the renewal queue, not straight into the pool.
func TestTxn_FailedCommitRenewsProgrammedPages(t *testing.T) {
	env := newTableEnv(t)

	reg := metric.NewRegistry()
	env.fs.Close()
	fs, err := freespace.New(freespace.Config{
		Medium:    env.medium,
		Cipher:    env.dev,
		Entropy:   env.entropy,
		Regions:   env.regions,
		Logger:    env.logger,
		Metrics:   reg,
		RenewRate: 100000,
	})
	if err != nil {
		t.Fatalf("freespace.New: %v", err)
	}
	env.fs = fs
	t.Cleanup(func() { fs.Close() })

	tab := env.create(0, "crash")
	x := tab.Begin()
	x.Write(0, env.page(0xE0))
	mustCommit(t, x)
	exactBefore := fs.FreeExact()

	// Fail the second data-region program of the next commit, so one
	// page is already sealed when the commit rolls back.
	var mu sync.Mutex
	dataPrograms := 0
	env.medium.SetProgramFault(func(addr uint64) error {
		mu.Lock()
		defer mu.Unlock()
		if addr < uint64(env.regions.DataFirst) {
			return nil
		}
		dataPrograms++
		if dataPrograms == 2 {
			return errors.New("injected program fault")
		}
		return nil
	})

	x = tab.Begin()
	x.Write(1, env.page(0xE1))
	x.Write(2, env.page(0xE2))
	if err := x.Commit(); err == nil {
		t.Fatal("Commit succeeded through injected program fault")
	}
	env.medium.SetProgramFault(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fs.DrainRenewals(ctx); err != nil {
		t.Fatalf("DrainRenewals: %v", err)
	}

	// Every rolled-back page returns, and exactly the programmed one
	// passes through filler renewal.
	renewedTotal := func() string {
		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		reg.Handler().ServeHTTP(rec, req)
		return rec.Body.String()
	}
	deadline := time.Now().Add(5 * time.Second)
	for fs.FreeExact() != exactBefore || !strings.Contains(renewedTotal(), "pagevault_pages_renewed_total 1") {
		if time.Now().After(deadline) {
			t.Fatalf("rollback never settled: FreeExact = %d (want %d)\n%s",
				fs.FreeExact(), exactBefore, renewedTotal())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTable_ProbeWrongKeyFindsNothing(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "hidden")

	x := tab.Begin()
	x.Write(0, env.page(0x99))
	mustCommit(t, x)

	wrong := testCipher(t, 0x00)
	if _, _, _, ok := Probe(env.medium, wrong, env.regions); ok {
		t.Error("Probe authenticated a root with the wrong key")
	}
}

func TestTable_TwoBasesIndependent(t *testing.T) {
	env := newTableEnv(t)
	first := env.create(0, "alpha")

	second := testCipher(t, 0x2E)
	cfg := env.config()
	cfg.Cipher = second
	other, err := Create(cfg, 1, "beta")
	if err != nil {
		t.Fatalf("Create second basis: %v", err)
	}

	x := first.Begin()
	x.Write(0, env.page(0x0A))
	mustCommit(t, x)
	x = other.Begin()
	x.Write(0, env.page(0x0B))
	mustCommit(t, x)

	// Each key sees exactly its own basis.
	_, _, root, ok := Probe(env.medium, env.basis, env.regions)
	if !ok || root.Name != "alpha" {
		t.Errorf("basis key resolved %q, want alpha", root.Name)
	}
	_, _, root, ok = Probe(env.medium, second, env.regions)
	if !ok || root.Name != "beta" {
		t.Errorf("second key resolved %q, want beta", root.Name)
	}

	occupied := OccupiedPairs(env.medium, []pagecipher.Cipher{env.basis, second}, env.regions)
	if !occupied[0] || !occupied[1] || len(occupied) != 2 {
		t.Errorf("OccupiedPairs = %v, want pairs 0 and 1", occupied)
	}

	got, err := first.ReadData(0)
	if err != nil {
		t.Fatalf("ReadData(first): %v", err)
	}
	if !bytes.Equal(got, env.page(0x0A)) {
		t.Error("first basis data mixed up")
	}
}

func TestTable_EmptyCommitIsNoop(t *testing.T) {
	env := newTableEnv(t)
	tab := env.create(0, "b")

	gen := tab.Generation()
	x := tab.Begin()
	if err := x.Commit(); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
	if tab.Generation() != gen {
		t.Error("empty commit advanced the root")
	}
}
