package audithook

// Action constants for audit events.
const (
	// Channel actions
	ActionChannelOpened = "channel.opened"
	ActionChannelClosed = "channel.closed"
	ActionTickRecorded  = "tick.recorded"

	// Settlement actions
	ActionSettlementExecuted = "settlement.executed"
	ActionSettlementFailed   = "settlement.failed"

	// Gate actions
	ActionPlaybackGranted = "playback.granted"
	ActionChallengeIssued = "challenge.issued"
	ActionPaymentRejected = "payment.rejected"

	// Credit actions
	ActionCreditConsumed = "credit.consumed"
	ActionCreditToppedUp = "credit.topped_up"
)

// Resource constants for audit events.
const (
	ResourceChannel    = "channel"
	ResourceSettlement = "settlement"
	ResourcePlayback   = "playback"
	ResourceCredit     = "credit"
)

// Category constants for audit events.
const (
	CategoryMetering = "metering"
	CategoryPayment  = "payment"
	CategoryAccess   = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
