// Package channel defines the payment channel entity: one metering session
// between a viewer and a piece of content, tracking owed vs settled usage.
package channel

import (
	"time"

	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/types"
)

// Status is the lifecycle state of a channel. A channel never reopens.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Channel is one active-or-closed metering session between a viewer and a
// piece of content. The price per second is locked at open time so that
// later catalog repricing never changes what an open session owes.
//
// AmountOwed == SecondsStreamed * PricePerSecond is maintained by
// construction: accrual always adds seconds and seconds*price in the same
// mutation. AmountSettled never exceeds AmountOwed.
type Channel struct {
	types.Entity
	ID               id.ChannelID `json:"id"`
	ViewerID         string       `json:"viewer_id"`
	ContentID        string       `json:"content_id"`
	PricePerSecond   int64        `json:"price_per_second"` // minor units, locked at open
	Currency         string       `json:"currency"`
	Status           Status       `json:"status"`
	SecondsStreamed  int64        `json:"total_seconds_streamed"`
	AmountOwed       int64        `json:"total_amount_owed"`    // minor units
	AmountSettled    int64        `json:"total_amount_settled"` // minor units, always <= owed
	LastTickAt       *time.Time   `json:"last_tick_at,omitempty"`
	LastSettlementAt *time.Time   `json:"last_settlement_at,omitempty"`
	OpenedAt         time.Time    `json:"opened_at"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
}

// IsActive reports whether the channel still accepts ticks.
func (c *Channel) IsActive() bool {
	return c.Status == StatusActive
}

// Unpaid returns the accrued-but-unsettled balance in minor units.
func (c *Channel) Unpaid() int64 {
	return c.AmountOwed - c.AmountSettled
}

// Owed returns the total owed amount as Money.
func (c *Channel) Owed() types.Money {
	return types.Money{Amount: c.AmountOwed, Currency: c.Currency}
}

// Settled returns the total settled amount as Money.
func (c *Channel) Settled() types.Money {
	return types.Money{Amount: c.AmountSettled, Currency: c.Currency}
}

// SettlementRef returns the reference time the settlement throttle measures
// from: the last settlement, or the open time if never settled.
func (c *Channel) SettlementRef() time.Time {
	if c.LastSettlementAt != nil {
		return *c.LastSettlementAt
	}
	return c.OpenedAt
}

// Consistent reports whether the ledger invariants hold for this snapshot.
// A false return indicates an internal-consistency error that requires
// manual reconciliation, never a recoverable condition.
func (c *Channel) Consistent() bool {
	return c.AmountSettled <= c.AmountOwed &&
		c.AmountOwed == c.SecondsStreamed*c.PricePerSecond
}
