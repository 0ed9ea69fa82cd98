// Package observability provides a metrics extension for StreamPay that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/streampay/plugin"
	"github.com/xraph/streampay/settlement"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnChannelOpened      = (*MetricsExtension)(nil)
	_ plugin.OnTickRecorded       = (*MetricsExtension)(nil)
	_ plugin.OnTickDeduplicated   = (*MetricsExtension)(nil)
	_ plugin.OnChannelClosed      = (*MetricsExtension)(nil)
	_ plugin.OnSettlementExecuted = (*MetricsExtension)(nil)
	_ plugin.OnSettlementFailed   = (*MetricsExtension)(nil)
	_ plugin.OnPlaybackGranted    = (*MetricsExtension)(nil)
	_ plugin.OnChallengeIssued    = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRejected    = (*MetricsExtension)(nil)
	_ plugin.OnCreditConsumed     = (*MetricsExtension)(nil)
	_ plugin.OnCreditToppedUp     = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a StreamPay plugin to automatically track payment metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Channel metrics
	ChannelOpened    Counter
	ChannelClosed    Counter
	TickRecorded     Counter
	TickDeduplicated Counter
	SecondsStreamed  Counter

	// Settlement metrics
	SettlementExecuted Counter
	SettlementFailed   Counter
	SettlementAmount   Histogram

	// Gate metrics
	PlaybackGranted Counter
	ChallengeIssued Counter
	PaymentRejected Counter

	// Credit metrics
	CreditConsumed      Counter
	CreditToppedUp      Counter
	CreditSecondsSpent  Counter
	CreditSecondsBought Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Channel metrics
		ChannelOpened:    factory.Counter("streampay.channel.opened"),
		ChannelClosed:    factory.Counter("streampay.channel.closed"),
		TickRecorded:     factory.Counter("streampay.tick.recorded"),
		TickDeduplicated: factory.Counter("streampay.tick.deduplicated"),
		SecondsStreamed:  factory.Counter("streampay.seconds.streamed"),

		// Settlement metrics
		SettlementExecuted: factory.Counter("streampay.settlement.executed"),
		SettlementFailed:   factory.Counter("streampay.settlement.failed"),
		SettlementAmount:   factory.Histogram("streampay.settlement.amount"),

		// Gate metrics
		PlaybackGranted: factory.Counter("streampay.playback.granted"),
		ChallengeIssued: factory.Counter("streampay.challenge.issued"),
		PaymentRejected: factory.Counter("streampay.payment.rejected"),

		// Credit metrics
		CreditConsumed:      factory.Counter("streampay.credit.consumed"),
		CreditToppedUp:      factory.Counter("streampay.credit.topped_up"),
		CreditSecondsSpent:  factory.Counter("streampay.credit.seconds.spent"),
		CreditSecondsBought: factory.Counter("streampay.credit.seconds.bought"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Channel lifecycle hooks
// ──────────────────────────────────────────────────

// OnChannelOpened implements plugin.OnChannelOpened.
func (m *MetricsExtension) OnChannelOpened(_ context.Context, _ interface{}) error {
	m.ChannelOpened.Inc()
	return nil
}

// OnTickRecorded implements plugin.OnTickRecorded.
func (m *MetricsExtension) OnTickRecorded(_ context.Context, _ interface{}, seconds int64) error {
	m.TickRecorded.Inc()
	m.SecondsStreamed.Add(float64(seconds))
	return nil
}

// OnTickDeduplicated implements plugin.OnTickDeduplicated.
func (m *MetricsExtension) OnTickDeduplicated(_ context.Context, _ string, _ int64) error {
	m.TickDeduplicated.Inc()
	return nil
}

// OnChannelClosed implements plugin.OnChannelClosed.
func (m *MetricsExtension) OnChannelClosed(_ context.Context, _ interface{}) error {
	m.ChannelClosed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementExecuted implements plugin.OnSettlementExecuted.
func (m *MetricsExtension) OnSettlementExecuted(_ context.Context, stl interface{}) error {
	m.SettlementExecuted.Inc()
	if s, ok := stl.(*settlement.Settlement); ok {
		m.SettlementAmount.Observe(float64(s.Amount))
	}
	return nil
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (m *MetricsExtension) OnSettlementFailed(_ context.Context, _ string, _ int64, _ error) error {
	m.SettlementFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Gate hooks
// ──────────────────────────────────────────────────

// OnPlaybackGranted implements plugin.OnPlaybackGranted.
func (m *MetricsExtension) OnPlaybackGranted(_ context.Context, _, _ string, _ int64) error {
	m.PlaybackGranted.Inc()
	return nil
}

// OnChallengeIssued implements plugin.OnChallengeIssued.
func (m *MetricsExtension) OnChallengeIssued(_ context.Context, _, _ string) error {
	m.ChallengeIssued.Inc()
	return nil
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (m *MetricsExtension) OnPaymentRejected(_ context.Context, _, _, _ string) error {
	m.PaymentRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (m *MetricsExtension) OnCreditConsumed(_ context.Context, _, _ string, seconds int64) error {
	m.CreditConsumed.Inc()
	m.CreditSecondsSpent.Add(float64(seconds))
	return nil
}

// OnCreditToppedUp implements plugin.OnCreditToppedUp.
func (m *MetricsExtension) OnCreditToppedUp(_ context.Context, _, _ string, seconds int64) error {
	m.CreditToppedUp.Inc()
	m.CreditSecondsBought.Add(float64(seconds))
	return nil
}
