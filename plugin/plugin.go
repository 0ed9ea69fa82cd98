// Package plugin provides an extensible plugin system for StreamPay.
// Plugins can hook into channel, settlement, and gate lifecycle events to
// extend functionality.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Channel lifecycle hooks
// ──────────────────────────────────────────────────

// OnChannelOpened is called when a new payment channel is opened.
type OnChannelOpened interface {
	Plugin
	OnChannelOpened(ctx context.Context, ch interface{}) error
}

// OnTickRecorded is called when a tick accrues usage on a channel.
type OnTickRecorded interface {
	Plugin
	OnTickRecorded(ctx context.Context, ch interface{}, seconds int64) error
}

// OnTickDeduplicated is called when a tick was a no-op because its time
// slot was already accrued by another request.
type OnTickDeduplicated interface {
	Plugin
	OnTickDeduplicated(ctx context.Context, channelID string, slot int64) error
}

// OnChannelClosed is called when a channel transitions to closed.
type OnChannelClosed interface {
	Plugin
	OnChannelClosed(ctx context.Context, ch interface{}) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementExecuted is called after a settlement commits.
type OnSettlementExecuted interface {
	Plugin
	OnSettlementExecuted(ctx context.Context, stl interface{}) error
}

// OnSettlementFailed is called when the executor rejects or times out.
type OnSettlementFailed interface {
	Plugin
	OnSettlementFailed(ctx context.Context, channelID string, amount int64, err error) error
}

// ──────────────────────────────────────────────────
// Gate hooks
// ──────────────────────────────────────────────────

// OnPlaybackGranted is called when the gate grants a playback increment.
type OnPlaybackGranted interface {
	Plugin
	OnPlaybackGranted(ctx context.Context, viewerID, contentID string, seconds int64) error
}

// OnChallengeIssued is called when the gate denies with a 402 challenge.
type OnChallengeIssued interface {
	Plugin
	OnChallengeIssued(ctx context.Context, viewerID, contentID string) error
}

// OnPaymentRejected is called when a payment proof is rejected before any
// settlement attempt.
type OnPaymentRejected interface {
	Plugin
	OnPaymentRejected(ctx context.Context, viewerID, contentID, reason string) error
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditConsumed is called when prepaid credit is decremented.
type OnCreditConsumed interface {
	Plugin
	OnCreditConsumed(ctx context.Context, viewerID, contentID string, seconds int64) error
}

// OnCreditToppedUp is called when prepaid credit is purchased.
type OnCreditToppedUp interface {
	Plugin
	OnCreditToppedUp(ctx context.Context, viewerID, contentID string, seconds int64) error
}
