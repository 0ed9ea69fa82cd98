// Package audithook bridges StreamPay lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/plugin"
	"github.com/xraph/streampay/settlement"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnChannelOpened      = (*Extension)(nil)
	_ plugin.OnChannelClosed      = (*Extension)(nil)
	_ plugin.OnSettlementExecuted = (*Extension)(nil)
	_ plugin.OnSettlementFailed   = (*Extension)(nil)
	_ plugin.OnPlaybackGranted    = (*Extension)(nil)
	_ plugin.OnPaymentRejected    = (*Extension)(nil)
	_ plugin.OnCreditConsumed     = (*Extension)(nil)
	_ plugin.OnCreditToppedUp     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges StreamPay lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Channel lifecycle hooks
// ──────────────────────────────────────────────────

// OnChannelOpened implements plugin.OnChannelOpened.
func (e *Extension) OnChannelOpened(ctx context.Context, ch interface{}) error {
	id, kv := channelFields(ch, "event", "channel_opened")
	return e.record(ctx, ActionChannelOpened, SeverityInfo, OutcomeSuccess,
		ResourceChannel, id, CategoryMetering, nil, kv...)
}

// OnChannelClosed implements plugin.OnChannelClosed.
func (e *Extension) OnChannelClosed(ctx context.Context, ch interface{}) error {
	id, kv := channelFields(ch, "event", "channel_closed")
	return e.record(ctx, ActionChannelClosed, SeverityInfo, OutcomeSuccess,
		ResourceChannel, id, CategoryMetering, nil, kv...)
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementExecuted implements plugin.OnSettlementExecuted.
func (e *Extension) OnSettlementExecuted(ctx context.Context, stl interface{}) error {
	var id string
	kv := []any{"event", "settlement_executed"}
	if s, ok := stl.(*settlement.Settlement); ok {
		id = s.ID.String()
		kv = append(kv,
			"channel_id", s.ChannelID.String(),
			"amount", s.Amount,
			"currency", s.Currency,
			"tx_ref", s.TxRef,
		)
	}
	return e.record(ctx, ActionSettlementExecuted, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, id, CategoryPayment, nil, kv...)
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (e *Extension) OnSettlementFailed(ctx context.Context, channelID string, amount int64, err error) error {
	return e.record(ctx, ActionSettlementFailed, SeverityCritical, OutcomeFailure,
		ResourceSettlement, channelID, CategoryPayment, err,
		"channel_id", channelID,
		"amount", amount,
	)
}

// ──────────────────────────────────────────────────
// Gate hooks
// ──────────────────────────────────────────────────

// OnPlaybackGranted implements plugin.OnPlaybackGranted.
func (e *Extension) OnPlaybackGranted(ctx context.Context, viewerID, contentID string, seconds int64) error {
	return e.record(ctx, ActionPlaybackGranted, SeverityInfo, OutcomeSuccess,
		ResourcePlayback, contentID, CategoryAccess, nil,
		"viewer_id", viewerID,
		"content_id", contentID,
		"seconds", seconds,
	)
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (e *Extension) OnPaymentRejected(ctx context.Context, viewerID, contentID, reason string) error {
	return e.record(ctx, ActionPaymentRejected, SeverityWarning, OutcomeFailure,
		ResourcePlayback, contentID, CategoryPayment, nil,
		"viewer_id", viewerID,
		"content_id", contentID,
		"reject_reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (e *Extension) OnCreditConsumed(ctx context.Context, viewerID, contentID string, seconds int64) error {
	return e.record(ctx, ActionCreditConsumed, SeverityInfo, OutcomeSuccess,
		ResourceCredit, contentID, CategoryAccess, nil,
		"viewer_id", viewerID,
		"content_id", contentID,
		"seconds", seconds,
	)
}

// OnCreditToppedUp implements plugin.OnCreditToppedUp.
func (e *Extension) OnCreditToppedUp(ctx context.Context, viewerID, contentID string, seconds int64) error {
	return e.record(ctx, ActionCreditToppedUp, SeverityInfo, OutcomeSuccess,
		ResourceCredit, contentID, CategoryPayment, nil,
		"viewer_id", viewerID,
		"content_id", contentID,
		"seconds", seconds,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// channelFields extracts the channel id and metadata pairs from a hook payload.
func channelFields(v interface{}, kvPairs ...any) (string, []any) {
	ch, ok := v.(*channel.Channel)
	if !ok {
		return "", kvPairs
	}
	return ch.ID.String(), append(kvPairs,
		"viewer_id", ch.ViewerID,
		"content_id", ch.ContentID,
		"seconds_streamed", ch.SecondsStreamed,
		"amount_owed", ch.AmountOwed,
		"amount_settled", ch.AmountSettled,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
