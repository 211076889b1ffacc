// Package config defines the daemon configuration structure.
package config

// ServerConfig is the root configuration for pagevaultd.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Medium   MediumSection   `koanf:"medium"`
	Engine   EngineSection   `koanf:"engine"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures daemon endpoints.
type ServerSection struct {
	Local   LocalConfig   `koanf:"local"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LocalConfig configures the local management socket.
type LocalConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig configures the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// MediumSection configures the backing flash medium.
type MediumSection struct {
	// Path is the flash image file the daemon operates on.
	Path string `koanf:"path"`

	// PageSize is the program granularity in bytes. Only used when
	// formatting a new medium; an existing medium carries its own
	// geometry in the header.
	PageSize int `koanf:"page_size"`

	// PagesPerBlock is the pages per erase block.
	PagesPerBlock int `koanf:"pages_per_block"`

	// TotalPages is the medium capacity in pages, used when formatting.
	TotalPages int `koanf:"total_pages"`

	// AnchorPairs is the number of anchor slot pairs reserved at
	// format time. It bounds the number of independent bases.
	AnchorPairs int `koanf:"anchor_pairs"`
}

// EngineSection configures engine behavior.
type EngineSection struct {
	// RenewRate caps background filler renewal in pages per second.
	RenewRate int `koanf:"renew_rate"`
}

// SecuritySection configures key material sources.
type SecuritySection struct {
	// DeviceSecretFile is a file holding the device root secret.
	DeviceSecretFile string `koanf:"device_secret_file"`

	// DeviceSecret is an inline hex device secret. Intended for
	// tests; prefer DeviceSecretFile in deployments.
	DeviceSecret string `koanf:"device_secret"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
