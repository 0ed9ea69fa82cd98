package settlement

import (
	"context"

	"github.com/xraph/streampay/id"
)

// Store is the read side of the settlement audit trail. Settlement rows
// are appended through channel mutations so that the append and the
// channel's settled-total update commit as one unit.
type Store interface {
	List(ctx context.Context, channelID id.ChannelID) ([]*Settlement, error)
	Sum(ctx context.Context, channelID id.ChannelID) (int64, error)
}
