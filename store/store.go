package store

import (
	"context"
	"time"

	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
)

// Store is the unified storage interface for all StreamPay entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Channel methods
	CreateChannel(ctx context.Context, c *channel.Channel) error
	GetChannel(ctx context.Context, channelID id.ChannelID) (*channel.Channel, error)
	GetActiveChannel(ctx context.Context, viewerID, contentID string) (*channel.Channel, error)
	ApplyChannelMutation(ctx context.Context, mut channel.Mutation) (*channel.Channel, error)
	ListStaleChannels(ctx context.Context, settledBefore time.Time, limit int) ([]*channel.Channel, error)

	// Settlement methods
	ListSettlements(ctx context.Context, channelID id.ChannelID) ([]*settlement.Settlement, error)
	SumSettlements(ctx context.Context, channelID id.ChannelID) (int64, error)

	// Credit methods
	GetCredit(ctx context.Context, viewerID, contentID string) (*credit.StreamCredit, error)
	AddCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, error)
	ConsumeCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, bool, error)

	// Tick slot methods
	AcquireTickSlot(ctx context.Context, key string, expiresAt time.Time) (bool, error)
	PurgeTickSlots(ctx context.Context, before time.Time) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
