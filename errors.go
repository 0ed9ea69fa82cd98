package streampay

import (
	"errors"
	"fmt"

	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/x402"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("streampay: not found")
	ErrInvalidInput = errors.New("streampay: invalid input")

	// Channel errors
	ErrChannelNotFound = errors.New("streampay: channel not found")
	ErrChannelClosed   = errors.New("streampay: channel is closed")

	// Content errors
	ErrContentNotFound = errors.New("streampay: content not found")
	ErrInvalidPrice    = errors.New("streampay: invalid content price")

	// Gate errors
	ErrInsufficientCredit = errors.New("streampay: insufficient stream credit")
	ErrCreditNotFound     = errors.New("streampay: stream credit not found")

	// Payment protocol errors
	ErrInvalidPayload  = errors.New("streampay: invalid payment payload")
	ErrPaymentMismatch = errors.New("streampay: payment requirement mismatch")

	// Configuration errors
	ErrSellerNotConfigured = errors.New("streampay: seller address not configured")
	ErrRailNotConfigured   = errors.New("streampay: payment rail not configured")

	// Settlement errors
	ErrSettlementFailed   = errors.New("streampay: settlement failed")
	ErrLedgerInconsistent = errors.New("streampay: ledger inconsistent (settled exceeds owed)")

	// Store errors
	ErrStoreNotReady     = errors.New("streampay: store not ready")
	ErrStoreClosed       = errors.New("streampay: store is closed")
	ErrTransactionFailed = errors.New("streampay: transaction failed")
	ErrMigrationFailed   = errors.New("streampay: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("streampay: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error. Client error:
// surfaced immediately, never retried.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrCreditNotFound) ||
		errors.Is(err, content.ErrNotFound)
}

// IsInvalidState returns true if the error is a channel lifecycle
// violation (tick or close against a closed channel).
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrChannelClosed)
}

// IsPaymentError returns true if the error is a malformed or mismatched
// payment proof. Client error: the payer must fix the proof, the core
// never retries.
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrPaymentMismatch) ||
		errors.Is(err, x402.ErrInvalidPayload) ||
		errors.Is(err, x402.ErrMismatch)
}

// IsConfigError returns true if the error is operator-fixable
// configuration: surfaced as service-unavailable, not retried.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrSellerNotConfigured) ||
		errors.Is(err, ErrRailNotConfigured) ||
		errors.Is(err, ErrInvalidPrice)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried by the caller. A failed settlement aborts before accrual
// commits, so re-ticking is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSettlementFailed) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
