// Package basis manages the lifecycle of bases: independently keyed,
// independently deniable namespaces sharing one medium.
//
// A basis is named only inside its encrypted root record; nothing on
// the medium reveals how many bases exist. Mounting derives a key from
// a password and trial-decrypts every anchor slot with it. A wrong
// password and an absent basis walk the identical full scan and fail
// with the identical error.
package basis

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/freespace"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/storage/pagetable"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/cmap"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// Config wires the basis manager to the medium and its services.
type Config struct {
	Medium  flash.Medium
	Header  layout.Header
	Regions layout.Regions
	Source  pagecipher.KeySource
	Entropy pagecipher.Entropy
	Free    *freespace.Manager
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Basis is one mounted namespace: its key, cipher, and decrypted page
// table, held in volatile memory only.
type Basis struct {
	name   string
	key    *pagecipher.SecureBytes
	cipher pagecipher.Cipher
	table  *pagetable.Table

	mu    sync.Mutex
	state domain.BasisState
}

// Name returns the basis name.
func (b *Basis) Name() string { return b.name }

// Table returns the basis page table.
func (b *Basis) Table() *pagetable.Table { return b.table }

// State returns the current lifecycle state.
func (b *Basis) State() domain.BasisState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Basis) setState(s domain.BasisState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// teardown zeroizes key material. The table cache is dropped with the
// Basis itself.
func (b *Basis) teardown() {
	b.setState(domain.BasisUnmounting)
	if b.key != nil {
		b.key.Zero()
	}
	b.cipher = nil
	b.table = nil
	b.setState(domain.BasisUnmounted)
}

// Manager tracks mounted bases and owns mount, create, and unmount.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Registry
	mounted *cmap.Map[*Basis]

	// mu serializes lifecycle operations; lookups go through the
	// sharded registry without it.
	mu     sync.Mutex
	closed bool
}

// NewManager creates a manager for an opened medium.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Medium == nil || cfg.Source == nil || cfg.Entropy == nil || cfg.Free == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("basis: medium, key source, entropy and allocator are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "basis"),
		metrics: cfg.Metrics,
		mounted: cmap.New[*Basis](),
	}, nil
}

// deriveCipher runs the slow KDF against the medium salt and wraps the
// result in a page cipher. The caller owns the returned key.
func (m *Manager) deriveCipher(password []byte) (*pagecipher.SecureBytes, pagecipher.Cipher, error) {
	key, err := pagecipher.DeriveBasisKey(password, m.cfg.Header.KDFSalt[:], m.cfg.Source)
	if err != nil {
		return nil, nil, domain.ErrKeyDerivation.WithCause(err)
	}
	c, err := pagecipher.New(key.Bytes())
	if err != nil {
		key.Zero()
		return nil, nil, domain.ErrKeyDerivation.WithCause(err)
	}
	return key, c, nil
}

// Mount derives a key from password and scans every anchor slot with
// it. On success the basis is cached and its name returned. Wrong
// password and absent basis are indistinguishable: both complete the
// full derivation and scan and return ErrAuthFailure.
func (m *Manager) Mount(password []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", domain.ErrEngineClosed
	}

	key, cipher, err := m.deriveCipher(password)
	if err != nil {
		return "", err
	}

	pair, slot, root, ok := pagetable.Probe(m.cfg.Medium, cipher, m.cfg.Regions)
	if !ok {
		key.Zero()
		m.metrics.IncMountFailures()
		return "", domain.ErrAuthFailure
	}

	if m.mounted.Has(root.Name) {
		key.Zero()
		return "", domain.ErrBasisMounted.WithDetails(root.Name)
	}

	table, err := pagetable.Load(m.tableConfig(cipher), pair, slot, root)
	if err != nil {
		key.Zero()
		m.metrics.IncMountFailures()
		return "", err
	}

	b := &Basis{
		name:   root.Name,
		key:    key,
		cipher: cipher,
		table:  table,
		state:  domain.BasisMounted,
	}
	m.mounted.Set(b.name, b)
	m.metrics.SetMountedBases(m.mounted.Count())
	m.logger.Info("basis mounted",
		"basis", b.name,
		"generation", root.Generation,
		"entries", table.EntryCount())
	return b.name, nil
}

// Create formats an empty basis under a fresh password-derived key
// into an anchor pair no mounted basis occupies.
//
// Pair selection can only see bases that are currently mounted; a
// hidden basis left unmounted during Create risks losing its anchors.
// Mount everything before creating, the same discipline the free pool
// requires.
func (m *Manager) Create(name string, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrEngineClosed
	}
	if name == "" || len(name) > domain.MaxEntryName {
		return domain.ErrNameTooLong.WithDetails(fmt.Sprintf("basis name length %d", len(name)))
	}
	if m.mounted.Has(name) {
		return domain.ErrNameExists.WithDetails(name)
	}

	key, cipher, err := m.deriveCipher(password)
	if err != nil {
		return err
	}

	// A password that already opens a basis must not silently produce
	// a second one.
	if _, _, root, ok := pagetable.Probe(m.cfg.Medium, cipher, m.cfg.Regions); ok {
		key.Zero()
		return domain.ErrNameExists.WithDetails(root.Name)
	}

	pair, err := m.pickFreePair()
	if err != nil {
		key.Zero()
		return err
	}

	table, err := pagetable.Create(m.tableConfig(cipher), pair, name)
	if err != nil {
		key.Zero()
		return err
	}

	b := &Basis{
		name:   name,
		key:    key,
		cipher: cipher,
		table:  table,
		state:  domain.BasisMounted,
	}
	m.mounted.Set(name, b)
	m.metrics.SetMountedBases(m.mounted.Count())
	m.logger.Info("basis created", "basis", name, "pair", pair)
	return nil
}

// Unmount flushes nothing (commits are already durable), zeroizes the
// basis key, and drops the cached table.
func (m *Manager) Unmount(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrEngineClosed
	}

	b, ok := m.mounted.Get(name)
	if !ok {
		return domain.ErrBasisNotMounted.WithDetails(name)
	}
	m.mounted.Delete(name)
	b.teardown()
	m.metrics.SetMountedBases(m.mounted.Count())
	m.logger.Info("basis unmounted", "basis", name)
	return nil
}

// Get returns a mounted basis.
func (m *Manager) Get(name string) (*Basis, error) {
	b, ok := m.mounted.Get(name)
	if !ok {
		return nil, domain.ErrBasisNotMounted.WithDetails(name)
	}
	return b, nil
}

// List returns the names of mounted bases, sorted.
func (m *Manager) List() []string {
	names := m.mounted.Keys()
	sort.Strings(names)
	return names
}

// Close unmounts every basis and zeroizes all key material. The
// manager is unusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	m.mounted.Range(func(_ string, b *Basis) bool {
		b.teardown()
		return true
	})
	m.mounted.Clear()
	m.metrics.SetMountedBases(0)
	return nil
}

func (m *Manager) tableConfig(cipher pagecipher.Cipher) pagetable.Config {
	return pagetable.Config{
		Medium:  m.cfg.Medium,
		Cipher:  cipher,
		Entropy: m.cfg.Entropy,
		Free:    m.cfg.Free,
		Regions: m.cfg.Regions,
		Logger:  m.cfg.Logger,
		Metrics: m.cfg.Metrics,
	}
}

// pickFreePair selects a random anchor pair not held by any mounted
// basis.
func (m *Manager) pickFreePair() (int, error) {
	pairs := m.cfg.Regions.AnchorPages / 2
	taken := make(map[int]bool, m.mounted.Count())
	m.mounted.Range(func(_ string, b *Basis) bool {
		taken[b.table.Pair()] = true
		return true
	})

	free := make([]int, 0, pairs)
	for p := 0; p < pairs; p++ {
		if !taken[p] {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return 0, domain.ErrAnchorsFull
	}

	var r [4]byte
	if err := m.cfg.Entropy.Fill(r[:]); err != nil {
		return 0, domain.ErrMediaFault.WithCause(err)
	}
	idx := binary.BigEndian.Uint32(r[:]) % uint32(len(free))
	return free[idx], nil
}
