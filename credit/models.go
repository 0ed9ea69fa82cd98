// Package credit defines the prepaid stream credit: the fast path that
// lets a viewer stream without a per-request challenge/response round trip.
package credit

import (
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/types"
)

// StreamCredit is a prepaid balance of playback seconds for one
// (viewer, content) pair. SecondsRemaining may be decremented to but
// never below zero; decrements are serialized per key by the store.
type StreamCredit struct {
	types.Entity
	ID               id.CreditID `json:"id"`
	ViewerID         string      `json:"viewer_id"`
	ContentID        string      `json:"content_id"`
	SecondsRemaining int64       `json:"seconds_remaining"`
}

// Covers reports whether the balance covers one increment of the given size.
func (c *StreamCredit) Covers(seconds int64) bool {
	return c != nil && c.SecondsRemaining >= seconds
}
