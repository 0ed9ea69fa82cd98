// Package extension provides the Forge extension adapter for StreamPay.
//
// It implements the forge.Extension interface to integrate StreamPay
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions or
// via YAML configuration files under "extensions.streampay" or "streampay"
// keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/store"
	"github.com/xraph/streampay/store/memory"
	"github.com/xraph/streampay/store/mongo"
	"github.com/xraph/streampay/store/postgres"
	"github.com/xraph/streampay/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "streampay"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Pay-per-second media streaming payment engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts StreamPay as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *streampay.Engine
	store      store.Store
	catalog    content.Catalog
	db         *grove.DB
	engineOpts []streampay.Option
}

// New creates a new StreamPay Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying StreamPay instance.
// This is nil until Register is called.
func (e *Extension) Engine() *streampay.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the payment engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.resolveStore(); err != nil {
		return err
	}

	// Applications without an external catalog get an empty static one
	// they can populate through the engine.
	if e.catalog == nil {
		e.catalog = content.NewStaticCatalog()
	}

	eng := streampay.New(e.store, e.catalog, e.buildEngineOpts()...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*streampay.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("streampay: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("streampay: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveStore picks the store backend. A store provided programmatically
// wins; otherwise a grove.DB provided via WithGroveDB is wrapped in the
// backend named by config.Dialect; otherwise the in-memory store is used.
func (e *Extension) resolveStore() error {
	if e.store != nil {
		return nil
	}
	if e.db == nil {
		e.store = memory.New()
		return nil
	}

	switch e.config.Dialect {
	case "", "postgres":
		e.store = postgres.New(e.db)
	case "sqlite":
		e.store = sqlite.New(e.db)
	case "mongo":
		e.store = mongo.New(e.db)
	default:
		return fmt.Errorf("streampay: unknown store dialect %q", e.config.Dialect)
	}
	return nil
}

// buildEngineOpts constructs streampay.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []streampay.Option {
	opts := make([]streampay.Option, 0, len(e.engineOpts)+4)

	if e.config.ChunkSeconds > 0 {
		opts = append(opts, streampay.WithChunkSeconds(e.config.ChunkSeconds))
	}
	if e.config.SettlementInterval > 0 {
		opts = append(opts, streampay.WithSettlementInterval(e.config.SettlementInterval))
	}
	if e.config.SweepInterval > 0 {
		opts = append(opts, streampay.WithSweepInterval(e.config.SweepInterval))
	}
	if e.config.Network != "" && e.config.Asset != "" {
		opts = append(opts, streampay.WithPaymentRail(e.config.Network, e.config.Asset))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("streampay: configuration is required but not found in config files; " +
				"ensure 'extensions.streampay' or 'streampay' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("streampay: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("chunk_seconds", e.config.ChunkSeconds),
		forge.F("settlement_interval", e.config.SettlementInterval),
		forge.F("sweep_interval", e.config.SweepInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.streampay" first (namespaced pattern).
	if cm.IsSet("extensions.streampay") {
		if err := cm.Bind("extensions.streampay", &cfg); err == nil {
			e.Logger().Debug("streampay: loaded config from file",
				forge.F("key", "extensions.streampay"),
			)
			return cfg, true
		}
		e.Logger().Warn("streampay: failed to bind extensions.streampay config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "streampay" key.
	if cm.IsSet("streampay") {
		if err := cm.Bind("streampay", &cfg); err == nil {
			e.Logger().Debug("streampay: loaded config from file",
				forge.F("key", "streampay"),
			)
			return cfg, true
		}
		e.Logger().Warn("streampay: failed to bind streampay config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.ChunkSeconds == 0 {
		cfg.ChunkSeconds = defaults.ChunkSeconds
	}
	if cfg.SettlementInterval == 0 {
		cfg.SettlementInterval = defaults.SettlementInterval
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Network == "" && programmaticConfig.Network != "" {
		yamlConfig.Network = programmaticConfig.Network
	}
	if yamlConfig.Asset == "" && programmaticConfig.Asset != "" {
		yamlConfig.Asset = programmaticConfig.Asset
	}
	if yamlConfig.Dialect == "" && programmaticConfig.Dialect != "" {
		yamlConfig.Dialect = programmaticConfig.Dialect
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.ChunkSeconds == 0 && programmaticConfig.ChunkSeconds != 0 {
		yamlConfig.ChunkSeconds = programmaticConfig.ChunkSeconds
	}
	if yamlConfig.SettlementInterval == 0 && programmaticConfig.SettlementInterval != 0 {
		yamlConfig.SettlementInterval = programmaticConfig.SettlementInterval
	}
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
