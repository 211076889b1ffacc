// Package main provides the entry point for pagevaultd.
//
// pagevaultd is the PageVault daemon: it owns the flash medium and
// exposes basis and entry management over a local Unix socket.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/yndnr/pagevault-go/internal/infra/buildinfo"
	"github.com/yndnr/pagevault-go/internal/infra/confloader"
	"github.com/yndnr/pagevault-go/internal/infra/shutdown"
	"github.com/yndnr/pagevault-go/internal/server/config"
	"github.com/yndnr/pagevault-go/internal/server/localserver"
	"github.com/yndnr/pagevault-go/internal/storage"
	"github.com/yndnr/pagevault-go/internal/telemetry/logger"
	"github.com/yndnr/pagevault-go/internal/telemetry/metric"
	"github.com/yndnr/pagevault-go/pkg/crypto/pagecipher"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		formatNew   = flag.Bool("format", false, "Format the medium before starting (destroys existing contents)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagevaultd %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := initLogger(cfg)
	log.Info("starting pagevaultd",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile)

	source, err := keySource(cfg)
	if err != nil {
		return fmt.Errorf("key source: %w", err)
	}

	medium, err := openMedium(cfg, *formatNew, source, log)
	if err != nil {
		return fmt.Errorf("open medium: %w", err)
	}

	metrics := metric.NewRegistry()
	engine, err := storage.Open(storage.Config{
		Medium:    medium,
		Source:    source,
		Entropy:   pagecipher.SystemEntropy{},
		RenewRate: cfg.Engine.RenewRate,
		Logger:    log,
		Metrics:   metrics,
	})
	if err != nil {
		medium.Close()
		return fmt.Errorf("open engine: %w", err)
	}

	localSrv := localserver.New(cfg.Server.Local.Path, localserver.NewHandler(engine, log), log)

	var metricsSrv *http.Server
	if cfg.Server.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.Metrics.Addr, Handler: mux}
	}

	// Hooks run in reverse: servers stop first, then renewals drain,
	// then the engine closes and zeroizes keys.
	handler := shutdown.NewHandler(30*time.Second, log)
	handler.OnShutdown("engine", func(ctx context.Context) error {
		return engine.Close()
	})
	handler.OnShutdown("renewals", func(ctx context.Context) error {
		return engine.DrainRenewals(ctx)
	})
	if metricsSrv != nil {
		handler.OnShutdown("metrics", func(ctx context.Context) error {
			return metricsSrv.Shutdown(ctx)
		})
	}
	handler.OnShutdown("socket", func(ctx context.Context) error {
		return localSrv.Shutdown(ctx)
	})

	go func() {
		if err := localSrv.ListenAndServe(); err != nil {
			log.Error("management socket failed", "error", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			log.Info("metrics listening", "addr", cfg.Server.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	log.Info("daemon started", "socket", cfg.Server.Local.Path)
	if err := handler.Wait(); err != nil {
		return err
	}
	log.Info("daemon stopped")
	return nil
}

// loadConfig merges defaults, the optional config file, and
// PAGEVAULT_ environment variables, then validates the result.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.ServerConfig) *slog.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(log)
	return log
}

// keySource builds the device secret source from configuration.
func keySource(cfg *config.ServerConfig) (pagecipher.KeySource, error) {
	switch {
	case cfg.Security.DeviceSecretFile != "":
		secret, err := os.ReadFile(cfg.Security.DeviceSecretFile)
		if err != nil {
			return nil, err
		}
		return pagecipher.StaticKeySource{Secret: secret}, nil
	case cfg.Security.DeviceSecret != "":
		secret, err := hex.DecodeString(cfg.Security.DeviceSecret)
		if err != nil {
			return nil, err
		}
		return pagecipher.StaticKeySource{Secret: secret}, nil
	default:
		return nil, errors.New("security.device_secret_file or security.device_secret must be set")
	}
}

// openMedium opens the flash image, formatting it first when
// requested or when the image does not exist yet.
func openMedium(cfg *config.ServerConfig, formatNew bool, source pagecipher.KeySource, log *slog.Logger) (*flash.FileMedium, error) {
	_, statErr := os.Stat(cfg.Medium.Path)
	fresh := os.IsNotExist(statErr)
	if formatNew && !fresh {
		if err := os.Remove(cfg.Medium.Path); err != nil {
			return nil, err
		}
		fresh = true
	}

	geo := flash.Geometry{
		PageSize:      cfg.Medium.PageSize,
		PagesPerBlock: cfg.Medium.PagesPerBlock,
		TotalPages:    uint64(cfg.Medium.TotalPages),
	}
	medium, err := flash.OpenFileMedium(cfg.Medium.Path, geo, true)
	if err != nil {
		return nil, err
	}

	if fresh {
		log.Info("formatting medium",
			"path", cfg.Medium.Path,
			"pages", cfg.Medium.TotalPages,
			"anchor_pairs", cfg.Medium.AnchorPairs)
		err := storage.Format(medium, storage.FormatConfig{
			AnchorPairs: cfg.Medium.AnchorPairs,
			Source:      source,
			Entropy:     pagecipher.SystemEntropy{},
			Logger:      log,
		})
		if err != nil {
			medium.Close()
			return nil, err
		}
	}
	return medium, nil
}
