package extension

import "time"

// Config holds the StreamPay extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.streampay" or "streampay" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for streampay routes (default: "/streampay").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// ChunkSeconds is the playback increment metered per tick and sold per
	// payment (default: 10).
	ChunkSeconds int64 `json:"chunk_seconds" mapstructure:"chunk_seconds" yaml:"chunk_seconds"`

	// SettlementInterval is the minimum time between periodic settlements
	// on a channel (default: 120s).
	SettlementInterval time.Duration `json:"settlement_interval" mapstructure:"settlement_interval" yaml:"settlement_interval"`

	// SweepInterval is how frequently the background worker scans for
	// channels with stale unpaid balances (default: 60s).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// Network is the payment network identifier advertised in challenges.
	Network string `json:"network" mapstructure:"network" yaml:"network"`

	// Asset is the payment asset address advertised in challenges.
	Asset string `json:"asset" mapstructure:"asset" yaml:"asset"`

	// Dialect selects the store backend constructed from a grove.DB
	// provided via WithGroveDB: "postgres" (default), "sqlite" or "mongo".
	Dialect string `json:"dialect" mapstructure:"dialect" yaml:"dialect"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:           "/streampay",
		ChunkSeconds:       10,
		SettlementInterval: 120 * time.Second,
		SweepInterval:      60 * time.Second,
	}
}
