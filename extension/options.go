package extension

import (
	"time"

	"github.com/xraph/grove"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/plugin"
	"github.com/xraph/streampay/store"
)

// Option configures the StreamPay Forge extension.
type Option func(*Extension)

// WithStore sets the store for the payment engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithCatalog sets the content catalog for the payment engine.
func WithCatalog(c content.Catalog) Option {
	return func(e *Extension) {
		e.catalog = c
	}
}

// WithGroveDB sets the grove database to build the store from. The store
// backend is selected by the Dialect config field (postgres by default).
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.db = db
	}
}

// WithEngineOption passes a streampay.Option through to the underlying engine.
func WithEngineOption(opt streampay.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a streampay plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, streampay.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for streampay routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithChunkSeconds sets the playback increment metered per tick.
func WithChunkSeconds(seconds int64) Option {
	return func(e *Extension) { e.config.ChunkSeconds = seconds }
}

// WithSettlementInterval sets the minimum time between periodic settlements.
func WithSettlementInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SettlementInterval = d }
}

// WithSweepInterval sets how frequently stale balances are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithDialect selects the store backend built from a grove.DB:
// "postgres", "sqlite" or "mongo".
func WithDialect(dialect string) Option {
	return func(e *Extension) { e.config.Dialect = dialect }
}
