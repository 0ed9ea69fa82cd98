package channel

import (
	"context"
	"time"

	"github.com/xraph/streampay/id"
)

// SettleOp records one executed settlement inside a Mutation: the
// settlement row to append and the amount to add to the channel's
// settled total.
type SettleOp struct {
	SettlementID id.SettlementID
	Amount       int64 // minor units, > 0
	TxRef        string
	Payer        string
}

// Mutation is one atomic state change against an active channel. Stores
// apply the whole mutation as a single unit: accrual, the optional
// settlement append, and the optional close either all commit or none do.
// Applying a mutation to a closed or unknown channel fails without effect.
type Mutation struct {
	ChannelID id.ChannelID
	Now       time.Time

	// Accrual: both zero for settle-only or close-only mutations.
	AddSeconds int64
	AddOwed    int64
	Tick       bool // set LastTickAt = Now

	Settle *SettleOp

	Close bool // set Status = closed, ClosedAt = Now
}

// Store is the channel persistence interface.
type Store interface {
	Create(ctx context.Context, c *Channel) error
	Get(ctx context.Context, channelID id.ChannelID) (*Channel, error)
	GetActive(ctx context.Context, viewerID, contentID string) (*Channel, error)
	Apply(ctx context.Context, mut Mutation) (*Channel, error)
	ListStale(ctx context.Context, settledBefore time.Time, limit int) ([]*Channel, error)
}
