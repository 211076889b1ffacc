package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/basis"
	"github.com/yndnr/pagevault-go/internal/storage/dict"
	"github.com/yndnr/pagevault-go/internal/storage/freespace"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// Config configures the engine.
type Config struct {
	// Medium is the opened flash medium, already formatted.
	Medium flash.Medium

	// Source yields the device-bound secret.
	Source pagecipher.KeySource

	// Entropy is the randomness source. Production deployments use
	// pagecipher.SystemEntropy; filler from anything weaker is visible
	// to an adversary with a statistics textbook.
	Entropy pagecipher.Entropy

	// RenewRate limits background filler rewrites, pages per second.
	// Zero selects the freespace default.
	RenewRate int

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Engine is the PageVault storage engine.
type Engine struct {
	cfg     Config
	medium  flash.Medium
	header  layout.Header
	regions layout.Regions
	free    *freespace.Manager
	bases   *basis.Manager
	logger  *slog.Logger
	metrics *metric.Registry

	mu     sync.Mutex
	dicts  map[string]*dict.Dict
	closed bool
}

// Open loads a formatted medium and starts the engine services. No
// basis is mounted; Open alone reveals nothing that needs a password.
func Open(cfg Config) (*Engine, error) {
	if cfg.Medium == nil || cfg.Source == nil || cfg.Entropy == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("storage: medium, key source and entropy are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "engine")
	start := time.Now()

	page, err := cfg.Medium.ReadPage(layout.HeaderPage)
	if err != nil {
		return nil, domain.ErrMediaFault.WithCause(err)
	}
	header, err := layout.DecodeHeader(page)
	if err != nil {
		return nil, err
	}
	geo := cfg.Medium.Geometry()
	if header.PageSize != uint32(geo.PageSize) || header.TotalPages != geo.TotalPages {
		return nil, domain.ErrMediaFault.WithDetails("header geometry does not match medium")
	}
	regions := layout.MediumRegions(header)

	poolCipher, err := poolCipherFrom(cfg.Source)
	if err != nil {
		return nil, err
	}
	free, err := freespace.New(freespace.Config{
		Medium:    cfg.Medium,
		Cipher:    poolCipher,
		Entropy:   cfg.Entropy,
		Regions:   regions,
		RenewRate: cfg.RenewRate,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	bases, err := basis.NewManager(basis.Config{
		Medium:  cfg.Medium,
		Header:  header,
		Regions: regions,
		Source:  cfg.Source,
		Entropy: cfg.Entropy,
		Free:    free,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		free.Close()
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		medium:  cfg.Medium,
		header:  header,
		regions: regions,
		free:    free,
		bases:   bases,
		logger:  logger,
		metrics: cfg.Metrics,
		dicts:   map[string]*dict.Dict{},
	}
	logger.Info("engine opened",
		"pages", header.TotalPages,
		"anchor_pairs", header.AnchorPairs,
		"elapsed", time.Since(start))
	return e, nil
}

// Mount unlocks a basis by password and opens its dictionary. The
// returned name comes from the basis root record.
func (e *Engine) Mount(password []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", domain.ErrEngineClosed
	}

	name, err := e.bases.Mount(password)
	if err != nil {
		return "", err
	}
	if err := e.openDict(name); err != nil {
		e.bases.Unmount(name)
		return "", err
	}
	return name, nil
}

// CreateBasis formats a new basis under password and mounts it.
func (e *Engine) CreateBasis(name string, password []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrEngineClosed
	}

	if err := e.bases.Create(name, password); err != nil {
		return err
	}
	if err := e.openDict(name); err != nil {
		e.bases.Unmount(name)
		return err
	}
	return nil
}

// Unmount locks a basis: its dictionary closes and its key material is
// zeroized.
func (e *Engine) Unmount(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrEngineClosed
	}

	delete(e.dicts, name)
	return e.bases.Unmount(name)
}

// Bases lists mounted basis names, sorted.
func (e *Engine) Bases() []string {
	return e.bases.List()
}

// List returns the entry names of a mounted basis, sorted.
func (e *Engine) List(basisName string) ([]string, error) {
	d, err := e.dict(basisName)
	if err != nil {
		return nil, err
	}
	return d.List(), nil
}

// Get returns the full contents of an entry.
func (e *Engine) Get(basisName, entry string) ([]byte, error) {
	d, err := e.dict(basisName)
	if err != nil {
		return nil, err
	}
	return d.ReadAll(entry)
}

// GetRange copies up to len(out) bytes of an entry from off, truncated
// at the entry length.
func (e *Engine) GetRange(basisName, entry string, off uint64, out []byte) (int, error) {
	d, err := e.dict(basisName)
	if err != nil {
		return 0, err
	}
	return d.Read(entry, off, out)
}

// Put stores an entry, replacing existing contents.
func (e *Engine) Put(basisName, entry string, data []byte) error {
	d, err := e.dict(basisName)
	if err != nil {
		return err
	}
	return d.Put(entry, data)
}

// Create stores a new entry, failing on an existing name.
func (e *Engine) Create(basisName, entry string, data []byte) error {
	d, err := e.dict(basisName)
	if err != nil {
		return err
	}
	return d.Create(entry, data)
}

// Append extends an entry.
func (e *Engine) Append(basisName, entry string, data []byte) error {
	d, err := e.dict(basisName)
	if err != nil {
		return err
	}
	return d.Append(entry, data)
}

// Delete removes an entry and queues its pages for re-randomization.
func (e *Engine) Delete(basisName, entry string) error {
	d, err := e.dict(basisName)
	if err != nil {
		return err
	}
	return d.Delete(entry)
}

// EntrySize returns the byte length of an entry.
func (e *Engine) EntrySize(basisName, entry string) (uint64, error) {
	d, err := e.dict(basisName)
	if err != nil {
		return 0, err
	}
	return d.Size(entry)
}

// FreeEstimate returns a deliberately fuzzed free-page count. The
// fuzz prevents arithmetic over repeated queries from resolving the
// exact allocation state.
func (e *Engine) FreeEstimate() uint64 {
	return e.free.Estimate()
}

// DrainRenewals blocks until every freed page has been rewritten with
// fresh filler, or ctx expires. Shutdown uses it so retired
// ciphertext never outlives the process by more than the renewal
// queue.
func (e *Engine) DrainRenewals(ctx context.Context) error {
	return e.free.DrainRenewals(ctx)
}

// Close unmounts all bases, zeroizes key material, and stops the
// background services. Committed data is already durable; Close loses
// nothing but pending filler renewals, which resume on next open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.dicts = nil
	err := e.bases.Close()
	if ferr := e.free.Close(); err == nil {
		err = ferr
	}
	e.logger.Info("engine closed")
	return err
}

func (e *Engine) dict(basisName string) (*dict.Dict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, domain.ErrEngineClosed
	}
	d, ok := e.dicts[basisName]
	if !ok {
		return nil, domain.ErrBasisNotMounted.WithDetails(basisName)
	}
	return d, nil
}

// openDict opens the dictionary of a freshly mounted basis. Caller
// holds e.mu.
func (e *Engine) openDict(name string) error {
	b, err := e.bases.Get(name)
	if err != nil {
		return err
	}
	d, err := dict.Open(b.Table(), e.cfg.Logger)
	if err != nil {
		return err
	}
	e.dicts[name] = d
	return nil
}
