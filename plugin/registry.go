package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onChannelOpened      []OnChannelOpened
	onTickRecorded       []OnTickRecorded
	onTickDeduplicated   []OnTickDeduplicated
	onChannelClosed      []OnChannelClosed
	onSettlementExecuted []OnSettlementExecuted
	onSettlementFailed   []OnSettlementFailed
	onPlaybackGranted    []OnPlaybackGranted
	onChallengeIssued    []OnChallengeIssued
	onPaymentRejected    []OnPaymentRejected
	onCreditConsumed     []OnCreditConsumed
	onCreditToppedUp     []OnCreditToppedUp
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnChannelOpened); ok {
		r.onChannelOpened = append(r.onChannelOpened, v)
	}
	if v, ok := p.(OnTickRecorded); ok {
		r.onTickRecorded = append(r.onTickRecorded, v)
	}
	if v, ok := p.(OnTickDeduplicated); ok {
		r.onTickDeduplicated = append(r.onTickDeduplicated, v)
	}
	if v, ok := p.(OnChannelClosed); ok {
		r.onChannelClosed = append(r.onChannelClosed, v)
	}
	if v, ok := p.(OnSettlementExecuted); ok {
		r.onSettlementExecuted = append(r.onSettlementExecuted, v)
	}
	if v, ok := p.(OnSettlementFailed); ok {
		r.onSettlementFailed = append(r.onSettlementFailed, v)
	}
	if v, ok := p.(OnPlaybackGranted); ok {
		r.onPlaybackGranted = append(r.onPlaybackGranted, v)
	}
	if v, ok := p.(OnChallengeIssued); ok {
		r.onChallengeIssued = append(r.onChallengeIssued, v)
	}
	if v, ok := p.(OnPaymentRejected); ok {
		r.onPaymentRejected = append(r.onPaymentRejected, v)
	}
	if v, ok := p.(OnCreditConsumed); ok {
		r.onCreditConsumed = append(r.onCreditConsumed, v)
	}
	if v, ok := p.(OnCreditToppedUp); ok {
		r.onCreditToppedUp = append(r.onCreditToppedUp, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnChannelOpened)(nil)).Elem(), "OnChannelOpened")
	checkInterface(reflect.TypeOf((*OnTickRecorded)(nil)).Elem(), "OnTickRecorded")
	checkInterface(reflect.TypeOf((*OnTickDeduplicated)(nil)).Elem(), "OnTickDeduplicated")
	checkInterface(reflect.TypeOf((*OnChannelClosed)(nil)).Elem(), "OnChannelClosed")
	checkInterface(reflect.TypeOf((*OnSettlementExecuted)(nil)).Elem(), "OnSettlementExecuted")
	checkInterface(reflect.TypeOf((*OnSettlementFailed)(nil)).Elem(), "OnSettlementFailed")
	checkInterface(reflect.TypeOf((*OnPlaybackGranted)(nil)).Elem(), "OnPlaybackGranted")
	checkInterface(reflect.TypeOf((*OnChallengeIssued)(nil)).Elem(), "OnChallengeIssued")
	checkInterface(reflect.TypeOf((*OnPaymentRejected)(nil)).Elem(), "OnPaymentRejected")
	checkInterface(reflect.TypeOf((*OnCreditConsumed)(nil)).Elem(), "OnCreditConsumed")
	checkInterface(reflect.TypeOf((*OnCreditToppedUp)(nil)).Elem(), "OnCreditToppedUp")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitChannelOpened emits a channel opened event.
func (r *Registry) EmitChannelOpened(ctx context.Context, ch interface{}) {
	r.mu.RLock()
	plugins := r.onChannelOpened
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnChannelOpened(ctx, ch)
		}); err != nil {
			r.logger.Warn("plugin OnChannelOpened failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTickRecorded emits a tick recorded event.
func (r *Registry) EmitTickRecorded(ctx context.Context, ch interface{}, seconds int64) {
	r.mu.RLock()
	plugins := r.onTickRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTickRecorded(ctx, ch, seconds)
		}); err != nil {
			r.logger.Warn("plugin OnTickRecorded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTickDeduplicated emits a tick deduplicated event.
func (r *Registry) EmitTickDeduplicated(ctx context.Context, channelID string, slot int64) {
	r.mu.RLock()
	plugins := r.onTickDeduplicated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTickDeduplicated(ctx, channelID, slot)
		}); err != nil {
			r.logger.Warn("plugin OnTickDeduplicated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitChannelClosed emits a channel closed event.
func (r *Registry) EmitChannelClosed(ctx context.Context, ch interface{}) {
	r.mu.RLock()
	plugins := r.onChannelClosed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnChannelClosed(ctx, ch)
		}); err != nil {
			r.logger.Warn("plugin OnChannelClosed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementExecuted emits a settlement executed event.
func (r *Registry) EmitSettlementExecuted(ctx context.Context, stl interface{}) {
	r.mu.RLock()
	plugins := r.onSettlementExecuted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementExecuted(ctx, stl)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementExecuted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementFailed emits a settlement failed event.
func (r *Registry) EmitSettlementFailed(ctx context.Context, channelID string, amount int64, cause error) {
	r.mu.RLock()
	plugins := r.onSettlementFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementFailed(ctx, channelID, amount, cause)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlaybackGranted emits a playback granted event.
func (r *Registry) EmitPlaybackGranted(ctx context.Context, viewerID, contentID string, seconds int64) {
	r.mu.RLock()
	plugins := r.onPlaybackGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlaybackGranted(ctx, viewerID, contentID, seconds)
		}); err != nil {
			r.logger.Warn("plugin OnPlaybackGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitChallengeIssued emits a challenge issued event.
func (r *Registry) EmitChallengeIssued(ctx context.Context, viewerID, contentID string) {
	r.mu.RLock()
	plugins := r.onChallengeIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnChallengeIssued(ctx, viewerID, contentID)
		}); err != nil {
			r.logger.Warn("plugin OnChallengeIssued failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentRejected emits a payment rejected event.
func (r *Registry) EmitPaymentRejected(ctx context.Context, viewerID, contentID, reason string) {
	r.mu.RLock()
	plugins := r.onPaymentRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentRejected(ctx, viewerID, contentID, reason)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditConsumed emits a credit consumed event.
func (r *Registry) EmitCreditConsumed(ctx context.Context, viewerID, contentID string, seconds int64) {
	r.mu.RLock()
	plugins := r.onCreditConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditConsumed(ctx, viewerID, contentID, seconds)
		}); err != nil {
			r.logger.Warn("plugin OnCreditConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditToppedUp emits a credit topped up event.
func (r *Registry) EmitCreditToppedUp(ctx context.Context, viewerID, contentID string, seconds int64) {
	r.mu.RLock()
	plugins := r.onCreditToppedUp
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditToppedUp(ctx, viewerID, contentID, seconds)
		}); err != nil {
			r.logger.Warn("plugin OnCreditToppedUp failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
