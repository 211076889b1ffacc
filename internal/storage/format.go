package storage

import (
	"crypto/sha256"
	"log/slog"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/freespace"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/internal/storage/pagetable"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// FormatConfig configures medium formatting.
type FormatConfig struct {
	// AnchorPairs bounds the number of bases the medium can hold.
	// Zero selects layout.DefaultAnchorPairs.
	AnchorPairs int

	// Source yields the device-bound secret protecting the free pool.
	Source pagecipher.KeySource

	// Entropy supplies the salt and the filler randomness.
	Entropy pagecipher.Entropy

	Logger *slog.Logger
}

// Format initializes a medium: a plaintext header with a fresh KDF
// salt, true-random filler over every other page, and an all-free
// pool record. After Format the medium carries zero bases and is
// byte-for-byte indistinguishable from one carrying many.
func Format(medium flash.Medium, cfg FormatConfig) error {
	if cfg.Source == nil || cfg.Entropy == nil {
		return domain.ErrInvalidArgument.WithDetails("format: key source and entropy are required")
	}
	if cfg.AnchorPairs <= 0 {
		cfg.AnchorPairs = layout.DefaultAnchorPairs
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	geo := medium.Geometry()
	if geo.PageSize < layout.MinPageSize {
		return domain.ErrInvalidArgument.WithDetails("page size below format minimum")
	}

	header := layout.Header{
		Version:     layout.FormatVersion,
		PageSize:    uint32(geo.PageSize),
		TotalPages:  geo.TotalPages,
		AnchorPairs: uint16(cfg.AnchorPairs),
		AddrWidth:   domain.PhysAddrBytes,
		MBBB:        pagetable.MakeBeforeBreak(),
	}
	if err := cfg.Entropy.Fill(header.KDFSalt[:]); err != nil {
		return domain.ErrMediaFault.WithCause(err)
	}
	regions := layout.MediumRegions(header)
	if regions.DataPages == 0 || regions.DataFirst >= domain.PhysAddr(geo.TotalPages) {
		return domain.ErrInvalidArgument.WithDetails("medium too small for the requested layout")
	}

	start := time.Now()

	// Filler first: every page except the header becomes true random
	// bytes, so occupied and vacant pages share one distribution from
	// the very first boot.
	buf := make([]byte, geo.PageSize)
	for p := uint64(1); p < geo.TotalPages; p++ {
		if err := cfg.Entropy.Fill(buf); err != nil {
			return domain.ErrMediaFault.WithCause(err)
		}
		if err := flash.RewritePage(medium, p, buf); err != nil {
			return domain.ErrMediaFault.WithCause(err)
		}
	}

	poolCipher, err := poolCipherFrom(cfg.Source)
	if err != nil {
		return err
	}
	if err := freespace.Initialize(medium, poolCipher, cfg.Entropy, regions); err != nil {
		return err
	}

	page, err := layout.EncodeHeader(header, geo.PageSize)
	if err != nil {
		return err
	}
	if err := flash.RewritePage(medium, layout.HeaderPage, page); err != nil {
		return domain.ErrMediaFault.WithCause(err)
	}

	cfg.Logger.Info("medium formatted",
		"pages", geo.TotalPages,
		"anchor_pairs", cfg.AnchorPairs,
		"data_pages", regions.DataPages,
		"elapsed", time.Since(start))
	return nil
}

// poolCipherFrom derives the device-bound free-pool cipher. The pool
// key is a subkey of the device secret alone; no password ever guards
// it, so the allocator works with every basis locked.
func poolCipherFrom(source pagecipher.KeySource) (pagecipher.Cipher, error) {
	secret, err := source.DeviceSecret()
	if err != nil {
		return nil, domain.ErrKeyDerivation.WithCause(err)
	}
	// Device secrets vary in length across root-of-trust backends;
	// condense to a fixed-width parent before subkey expansion.
	sum := sha256.Sum256(secret)
	pagecipher.Wipe(secret)
	parent := pagecipher.NewSecureBytes(sum[:])
	defer parent.Zero()

	key, err := pagecipher.DeriveSubkey(parent, "pagevault/free-pool/v1")
	if err != nil {
		return nil, domain.ErrKeyDerivation.WithCause(err)
	}
	defer key.Zero()

	c, err := pagecipher.New(key.Bytes())
	if err != nil {
		return nil, domain.ErrKeyDerivation.WithCause(err)
	}
	return c, nil
}
