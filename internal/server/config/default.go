// Package config defines the daemon configuration structure.
package config

// Default configuration values.
const (
	DefaultLocalSocket = "/var/run/pagevaultd/pagevaultd.sock"
	DefaultMetricsAddr = "127.0.0.1:5090"

	DefaultMediumPath    = "/var/lib/pagevaultd/flash.img"
	DefaultPageSize      = 4096
	DefaultPagesPerBlock = 1
	DefaultTotalPages    = 16384
	DefaultAnchorPairs   = 8

	DefaultRenewRate = 64

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default daemon configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Local: LocalConfig{
				Path: DefaultLocalSocket,
			},
			Metrics: MetricsConfig{
				Enabled: false,
				Addr:    DefaultMetricsAddr,
			},
		},
		Medium: MediumSection{
			Path:          DefaultMediumPath,
			PageSize:      DefaultPageSize,
			PagesPerBlock: DefaultPagesPerBlock,
			TotalPages:    DefaultTotalPages,
			AnchorPairs:   DefaultAnchorPairs,
		},
		Engine: EngineSection{
			RenewRate: DefaultRenewRate,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
