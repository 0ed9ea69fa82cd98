// Package settlement defines the settlement record, the batching policy,
// and the executor boundary to the external value-transfer rail.
package settlement

import (
	"time"

	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/types"
)

// Settlement is an immutable record of one successful value-transfer
// against a channel. Append-only: never mutated or deleted. The sum of a
// channel's settlements equals its settled total.
type Settlement struct {
	ID        id.SettlementID `json:"id"`
	ChannelID id.ChannelID    `json:"channel_id"`
	Amount    int64           `json:"amount"` // minor units, > 0
	Currency  string          `json:"currency"`
	TxRef     string          `json:"tx_ref"` // external transaction reference
	Payer     string          `json:"payer,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Money returns the settlement amount as Money.
func (s *Settlement) Money() types.Money {
	return types.Money{Amount: s.Amount, Currency: s.Currency}
}
