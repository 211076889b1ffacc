// Package config defines the daemon configuration structure.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyMedium(&cfg.Medium); err != nil {
		return err
	}
	if err := verifyEngine(&cfg.Engine); err != nil {
		return err
	}
	return verifySecurity(&cfg.Security)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Local.Path == "" {
		return errors.New("server.local.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Local.Path), 0o750); err != nil {
		return fmt.Errorf("cannot create socket directory: %w", err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("server.metrics.addr is required when metrics are enabled")
	}
	return nil
}

func verifyMedium(cfg *MediumSection) error {
	if cfg.Path == "" {
		return errors.New("medium.path is required")
	}
	if cfg.PageSize < 512 || bits.OnesCount(uint(cfg.PageSize)) != 1 {
		return fmt.Errorf("medium.page_size %d must be a power of two, at least 512", cfg.PageSize)
	}
	if cfg.PagesPerBlock < 1 {
		return errors.New("medium.pages_per_block must be at least 1")
	}
	if cfg.AnchorPairs < 1 || cfg.AnchorPairs > 64 {
		return fmt.Errorf("medium.anchor_pairs %d out of range [1, 64]", cfg.AnchorPairs)
	}
	// Header, anchors, pool, and some data pages must all fit.
	minimum := 1 + 2*cfg.AnchorPairs + 16
	if cfg.TotalPages < minimum {
		return fmt.Errorf("medium.total_pages %d too small for %d anchor pairs (need at least %d)",
			cfg.TotalPages, cfg.AnchorPairs, minimum)
	}
	return nil
}

func verifyEngine(cfg *EngineSection) error {
	if cfg.RenewRate < 1 {
		return errors.New("engine.renew_rate must be at least 1")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.DeviceSecretFile != "" && cfg.DeviceSecret != "" {
		return errors.New("security.device_secret_file and security.device_secret are mutually exclusive")
	}
	if cfg.DeviceSecret != "" {
		if _, err := hex.DecodeString(cfg.DeviceSecret); err != nil {
			return fmt.Errorf("security.device_secret is not valid hex: %w", err)
		}
	}
	return nil
}
